package models

import "time"

// Thread 是一个会过期的匿名帖子。Replies 按到达顺序排列。
type Thread struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Image     string         `json:"image,omitempty"`
	Sensitive bool           `json:"sensitive"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Views     int64          `json:"views"`
	Reactions map[string]int `json:"reactions"`
	Replies   []Reply        `json:"replies"`
}

// Alive 判断帖子在 now 时刻是否仍可见。
func (t *Thread) Alive(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// Clone 返回深拷贝，存储对外只交出副本。
func (t *Thread) Clone() Thread {
	out := *t
	out.Reactions = make(map[string]int, len(t.Reactions))
	for k, v := range t.Reactions {
		out.Reactions[k] = v
	}
	out.Replies = make([]Reply, len(t.Replies))
	copy(out.Replies, t.Replies)
	return out
}

type Reply struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type ReportReason string

const (
	ReasonAbuse      ReportReason = "abuse"
	ReasonHarassment ReportReason = "harassment"
	ReasonSpam       ReportReason = "spam"
	ReasonNSFW       ReportReason = "nsfw"
	ReasonIllegal    ReportReason = "illegal"
	ReasonOther      ReportReason = "other"
)

// NormalizeReason 把未知取值归一为 other，而不是拒绝请求。
func NormalizeReason(s string) ReportReason {
	switch r := ReportReason(s); r {
	case ReasonAbuse, ReasonHarassment, ReasonSpam, ReasonNSFW, ReasonIllegal, ReasonOther:
		return r
	default:
		return ReasonOther
	}
}

// Report 只追加、不修改；引用的帖子可能已经被清理。
type Report struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	Reason    ReportReason `gorm:"size:16;not null" json:"reason"`
	Details   string       `gorm:"type:text" json:"details,omitempty"`
	ThreadID  string       `gorm:"size:64;index" json:"threadId,omitempty"`
	ReplyID   string       `gorm:"size:64" json:"replyId,omitempty"`
	CreatedAt time.Time    `gorm:"index;not null" json:"createdAt"`
}
