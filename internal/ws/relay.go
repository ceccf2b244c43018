package ws

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lurk/internal/metrics"
)

// Sender 把一帧投递给指定连接，连接不存在或缓冲已满时返回 false。
type Sender interface {
	SendTo(peerID string, msg []byte) bool
}

type outbound struct {
	to  string
	msg []byte
}

// Relay 维护视频房间成员关系并转发信令。每个连接同一时间最多在一个房间。
// 状态修改在锁内完成，投递在解锁后进行。
type Relay struct {
	mu       sync.Mutex
	rooms    map[string]map[string]string // roomID -> peerID -> name
	peerRoom map[string]string
	sender   Sender
	now      func() time.Time
}

func NewRelay(sender Sender) *Relay {
	return &Relay{
		rooms:    make(map[string]map[string]string),
		peerRoom: make(map[string]string),
		sender:   sender,
		now:      time.Now,
	}
}

func (r *Relay) flush(out []outbound) {
	for _, o := range out {
		if !r.sender.SendTo(o.to, o.msg) {
			log.Debug().Str("peer_id", o.to).Msg("signal not delivered")
		}
	}
}

func frame(typ string, data any) []byte {
	b, err := encode(typ, data)
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("encode signal")
	}
	return b
}

// Join 加入房间：先离开旧房间，回复已有成员列表，并通知已有成员。
func (r *Relay) Join(peerID, roomID, name string) {
	roomID = clip(strings.TrimSpace(roomID), maxRoomIDLen)
	if roomID == "" {
		return
	}
	name = clip(strings.TrimSpace(name), maxPeerNameLen)

	r.mu.Lock()
	var out []outbound
	if cur, ok := r.peerRoom[peerID]; ok && cur != roomID {
		out = append(out, r.leaveLocked(peerID)...)
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]string)
		r.rooms[roomID] = members
	}
	_, rejoin := members[peerID]
	existing := make([]Peer, 0, len(members))
	for id, n := range members {
		if id != peerID {
			existing = append(existing, Peer{PeerID: id, Name: n})
		}
	}
	members[peerID] = name
	r.peerRoom[peerID] = roomID
	if !rejoin {
		joined := frame(TypePeerJoined, Peer{PeerID: peerID, Name: name})
		for _, p := range existing {
			out = append(out, outbound{to: p.PeerID, msg: joined})
		}
	}
	out = append(out, outbound{to: peerID, msg: frame(TypeExistingPeers, existing)})
	metrics.VideoRooms.Set(float64(len(r.rooms)))
	r.mu.Unlock()

	log.Debug().Str("peer_id", peerID).Str("room_id", roomID).Int("peers", len(existing)).Msg("video room joined")
	r.flush(out)
}

// Leave 离开当前房间；断线时同步调用。
func (r *Relay) Leave(peerID string) {
	r.mu.Lock()
	out := r.leaveLocked(peerID)
	r.mu.Unlock()
	r.flush(out)
}

func (r *Relay) leaveLocked(peerID string) []outbound {
	roomID, ok := r.peerRoom[peerID]
	if !ok {
		return nil
	}
	delete(r.peerRoom, peerID)
	members := r.rooms[roomID]
	name := members[peerID]
	delete(members, peerID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	metrics.VideoRooms.Set(float64(len(r.rooms)))

	left := frame(TypePeerLeft, Peer{PeerID: peerID, Name: name})
	out := make([]outbound, 0, len(members))
	for id := range members {
		out = append(out, outbound{to: id, msg: left})
	}
	return out
}

// Signal 原样转发 offer/answer/ice 负载；缺少目标或负载时静默丢弃。
func (r *Relay) Signal(typ, from string, in signalIn) {
	if in.To == "" {
		return
	}
	var data any
	switch typ {
	case TypeVideoOffer, TypeVideoAnswer:
		if !present(in.Description) {
			return
		}
		data = sessionOut{From: from, Description: in.Description}
	case TypeVideoICE:
		if !present(in.Candidate) {
			return
		}
		data = candidateOut{From: from, Candidate: in.Candidate}
	default:
		return
	}
	r.flush([]outbound{{to: in.To, msg: frame(typ, data)}})
}

// RoomMessage 广播给房间内所有成员（包括发送者），客户端按 id 去重。
func (r *Relay) RoomMessage(from, fallbackName string, in roomMessageIn) {
	text := clip(strings.TrimSpace(in.Text), maxRoomMsgLen)
	if text == "" {
		return
	}
	now := r.now()

	r.mu.Lock()
	roomID := clip(strings.TrimSpace(in.RoomID), maxRoomIDLen)
	if roomID == "" {
		roomID = r.peerRoom[from]
	}
	members := r.rooms[roomID]
	if len(members) == 0 {
		r.mu.Unlock()
		return
	}
	name := clip(strings.TrimSpace(in.Name), maxPeerNameLen)
	if name == "" {
		name = members[from]
	}
	if name == "" {
		name = fallbackName
	}
	msg := RoomMessage{ID: in.ID, RoomID: roomID, From: from, Name: name, Text: text, Ts: in.Ts}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s-%d", from, now.UnixMilli())
	}
	if msg.Ts == 0 {
		msg.Ts = now.UnixMilli()
	}
	b := frame(TypeRoomMessage, msg)
	out := make([]outbound, 0, len(members))
	for id := range members {
		out = append(out, outbound{to: id, msg: b})
	}
	r.mu.Unlock()

	r.flush(out)
}

// Room 返回 peer 当前所在房间。
func (r *Relay) Room(peerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.peerRoom[peerID]
	return id, ok
}

// Members 返回房间成员快照。
func (r *Relay) Members(roomID string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.rooms[roomID]))
	for k, v := range r.rooms[roomID] {
		out[k] = v
	}
	return out
}

func decode(raw json.RawMessage, v any) bool {
	return len(raw) > 0 && json.Unmarshal(raw, v) == nil
}
