package ws

import (
	"encoding/json"
	"time"
)

// 实时通道事件名。
const (
	TypeWelcome = "welcome"

	TypeChatMessage   = "chatMessage"
	TypeChatMessageV0 = "chat message"

	TypeJoinVideoRoom  = "join-video-room"
	TypeLeaveVideoRoom = "leave-video-room"
	TypeExistingPeers  = "video-existing-peers"
	TypePeerJoined     = "video-peer-joined"
	TypePeerLeft       = "video-peer-left"
	TypeVideoOffer     = "video-offer"
	TypeVideoAnswer    = "video-answer"
	TypeVideoICE       = "video-ice-candidate"
	TypeRoomMessage    = "video-room-message"
)

const (
	maxChatLen     = 500
	maxRoomMsgLen  = 500
	maxPeerNameLen = 64
	maxRoomIDLen   = 64

	systemUser = "system"
)

// Envelope 是所有帧的外层结构：{"type": ..., "data": ...}。
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encode(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: raw})
}

type Welcome struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ChatMessage struct {
	User string `json:"user"`
	Text string `json:"text"`
	Time string `json:"time"`
}

type chatIn struct {
	Text string `json:"text"`
}

type Peer struct {
	PeerID string `json:"peerId"`
	Name   string `json:"name"`
}

type joinIn struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// signalIn 覆盖 offer/answer/ice 三种入站帧，只会使用其中一个负载字段。
type signalIn struct {
	To          string          `json:"to"`
	Description json.RawMessage `json:"description,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
}

type sessionOut struct {
	From        string          `json:"from"`
	Description json.RawMessage `json:"description"`
}

type candidateOut struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

type roomMessageIn struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
	Name   string `json:"name"`
	ID     string `json:"id"`
	Ts     int64  `json:"ts"`
}

type RoomMessage struct {
	ID     string `json:"id"`
	RoomID string `json:"roomId"`
	From   string `json:"from"`
	Name   string `json:"name"`
	Text   string `json:"text"`
	Ts     int64  `json:"ts"`
}

func chatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// clip 按字符截断。
func clip(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
