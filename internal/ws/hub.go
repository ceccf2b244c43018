package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"lurk/internal/metrics"
	"lurk/internal/mw"
	"lurk/internal/names"
	"lurk/internal/service"
)

// Hub 管理全部连接：看板事件与全局聊天按到达顺序广播，视频信令交给 Relay 定向投递。
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	broadcast chan []byte

	relay   *Relay
	names   *names.Registry
	limiter *mw.RL
	now     func() time.Time
}

func NewHub(reg *names.Registry, limiter *mw.RL) *Hub {
	h := &Hub{
		clients:   make(map[string]*Client),
		broadcast: make(chan []byte, 256),
		names:     reg,
		limiter:   limiter,
		now:       time.Now,
	}
	h.relay = NewRelay(h)
	return h
}

func (h *Hub) Relay() *Relay { return h.relay }

// Run 单 goroutine 消费广播队列，保证事件顺序。
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.fanout(msg)
		}
	}
}

func (h *Hub) fanout(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.deliver(msg)
	}
}

// Notify 实现 service.Notifier，把存储事件编码后排入广播队列。
func (h *Hub) Notify(e service.Event) {
	b, err := encode(string(e.Type), e.Data)
	if err != nil {
		log.Error().Err(err).Str("type", string(e.Type)).Msg("encode board event")
		return
	}
	h.enqueue(b)
}

// enqueue 非阻塞入队。Notify 在存储锁内调用，队列满或 Run 已退出时丢弃该帧。
func (h *Hub) enqueue(b []byte) bool {
	select {
	case h.broadcast <- b:
		return true
	default:
		metrics.WsDroppedTotal.Inc()
		log.Warn().Int("queued", len(h.broadcast)).Msg("broadcast queue full, frame dropped")
		return false
	}
}

func (h *Hub) SendTo(peerID string, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[peerID]
	if !ok {
		return false
	}
	return c.deliver(msg)
}

func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	metrics.WsConnections.Inc()

	if b, err := encode(TypeWelcome, Welcome{ID: c.id, Name: c.name}); err == nil {
		h.SendTo(c.id, b)
	}
	h.system(c.name + " joined")
	log.Info().Str("peer_id", c.id).Str("name", c.name).Str("ip", c.ip).Msg("ws connected")
}

// Unregister 同步清理房间成员与昵称，重复调用无副作用。
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.mu.Unlock()
	metrics.WsConnections.Dec()

	h.relay.Leave(c.id)
	if h.names != nil {
		h.names.Release(c.name)
	}
	h.system(c.name + " left")
	log.Info().Str("peer_id", c.id).Str("name", c.name).Msg("ws disconnected")
}

func (h *Hub) system(text string) {
	if b, err := encode(TypeChatMessage, ChatMessage{User: systemUser, Text: text, Time: chatTime(h.now())}); err == nil {
		h.enqueue(b)
	}
}

func (h *Hub) notice(c *Client, text string) {
	if b, err := encode(TypeChatMessage, ChatMessage{User: systemUser, Text: text, Time: chatTime(h.now())}); err == nil {
		h.SendTo(c.id, b)
	}
}

// handle 分发一帧入站消息，无法识别或格式错误的帧直接忽略。
func (h *Hub) handle(c *Client, in Envelope) {
	switch in.Type {
	case TypeChatMessage:
		var m chatIn
		if decode(in.Data, &m) {
			h.chat(c, m.Text)
		}
	case TypeChatMessageV0:
		var s string
		if decode(in.Data, &s) {
			h.chat(c, s)
		}
	case TypeJoinVideoRoom:
		var j joinIn
		if decode(in.Data, &j) {
			if strings.TrimSpace(j.Name) == "" {
				j.Name = c.name
			}
			h.relay.Join(c.id, j.RoomID, j.Name)
		}
	case TypeLeaveVideoRoom:
		h.relay.Leave(c.id)
	case TypeVideoOffer, TypeVideoAnswer, TypeVideoICE:
		var s signalIn
		if decode(in.Data, &s) {
			h.relay.Signal(in.Type, c.id, s)
		}
	case TypeRoomMessage:
		var m roomMessageIn
		if decode(in.Data, &m) {
			h.relay.RoomMessage(c.id, c.name, m)
		}
	default:
		log.Debug().Str("type", in.Type).Str("peer_id", c.id).Msg("unknown ws frame")
	}
}

func (h *Hub) chat(c *Client, text string) {
	text = clip(strings.TrimSpace(text), maxChatLen)
	if text == "" {
		return
	}
	// 先预留连接令牌，被 IP 限速拒绝时归还
	res := c.chat.Reserve()
	if !res.OK() || res.Delay() > 0 {
		res.Cancel()
		h.notice(c, "You're sending messages too fast. Message dropped.")
		return
	}
	if h.limiter != nil {
		if ok, wait := h.limiter.Allow(mw.ActionChatMessage, c.ip); !ok {
			res.Cancel()
			metrics.RateLimitedTotal.WithLabelValues(string(mw.ActionChatMessage)).Inc()
			h.notice(c, "Chat is rate limited. Try again in "+wait.Round(time.Second).String()+".")
			return
		}
	}
	if h.names != nil {
		h.names.Touch(c.name)
	}
	b, err := encode(TypeChatMessage, ChatMessage{User: c.name, Text: text, Time: chatTime(h.now())})
	if err != nil {
		return
	}
	metrics.ChatMessagesTotal.Inc()
	h.enqueue(b)
}

// newChatBucket 每连接令牌桶：容量 5，每秒补充 1 个。
func newChatBucket() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(1), 5)
}

// CloseConnections 关闭所有底层连接，readPump 随之退出并走 Unregister 清理。
// 被劫持的 WebSocket 连接不受 http.Server.Shutdown 管理，停服时需显式调用。
func (h *Hub) CloseConnections() {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}
