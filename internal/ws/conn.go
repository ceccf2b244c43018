package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"lurk/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 64 << 10
)

type Client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
	name string
	ip   string
	chat *rate.Limiter
}

func newClient(conn *websocket.Conn, name, ip string) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
		id:   uuid.NewString(),
		name: name,
		ip:   ip,
		chat: newChatBucket(),
	}
}

// deliver 非阻塞投递，缓冲满时丢弃该帧，客户端依靠定期全量拉取对账。
// 调用方必须持有 Hub 的读锁。
func (c *Client) deliver(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		metrics.WsDroppedTotal.Inc()
		return false
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 升级为 WebSocket 并分配匿名昵称。
func Serve(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("ip", c.ClientIP()).Msg("ws upgrade")
			return
		}
		name := "anon"
		if h.names != nil {
			name = h.names.Assign()
		}
		client := newClient(conn, name, c.ClientIP())
		h.Register(client)

		go client.writePump()
		client.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("peer_id", c.id).Msg("ws read")
			}
			return
		}
		var in Envelope
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			continue
		}
		h.handle(c, in)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
