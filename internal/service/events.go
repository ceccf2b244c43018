package service

import "lurk/internal/models"

type EventType string

const (
	EventThreadCreated   EventType = "thread-created"
	EventReplyAdded      EventType = "reply-added"
	EventReactionUpdated EventType = "reaction-updated"
	EventThreadsPurged   EventType = "threads-purged"
)

// Event 是内容存储对外发布的变更通知，Data 会原样序列化到实时通道。
type Event struct {
	Type EventType
	Data any
}

// Notifier 接收存储变更事件。调用发生在存储锁内，实现方不得阻塞或回调存储。
type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

type ReplyAdded struct {
	ThreadID int64        `json:"threadId"`
	Reply    models.Reply `json:"reply"`
}

type ReactionUpdated struct {
	ThreadID  int64          `json:"threadId"`
	Reactions map[string]int `json:"reactions"`
}

type ThreadsPurged struct {
	IDs []int64 `json:"ids"`
}
