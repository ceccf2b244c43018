package service

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"lurk/internal/metrics"
	"lurk/internal/models"
)

const (
	MaxTitleLen = 200
	MaxBodyLen  = 5000
	MaxReplyLen = 2000

	DefaultMostViewed = 4
	MaxMostViewed     = 10
)

// ImageRemover 负责删除帖子关联的上传文件，需立即返回。
type ImageRemover interface {
	Remove(ref string)
}

type NewThread struct {
	Title     string
	Body      string
	Image     string
	Sensitive bool
}

// ThreadService 是帖子、回复与表情计数的唯一持有者。
// 所有读写都在同一把锁内完成，事件也在锁内按变更顺序发出。
type ThreadService struct {
	mu      sync.Mutex
	threads map[int64]*models.Thread
	lastID  int64

	policy  ExpiryPolicy
	emojis  []string
	allowed map[string]struct{}
	now     func() time.Time
	notify  Notifier
	images  ImageRemover
}

type Option func(*ThreadService)

func WithClock(now func() time.Time) Option {
	return func(s *ThreadService) { s.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(s *ThreadService) { s.notify = n }
}

func WithImageRemover(r ImageRemover) Option {
	return func(s *ThreadService) { s.images = r }
}

func NewThreadService(policy ExpiryPolicy, emojis []string, opts ...Option) *ThreadService {
	s := &ThreadService{
		threads: make(map[int64]*models.Thread),
		policy:  policy,
		emojis:  append([]string(nil), emojis...),
		allowed: make(map[string]struct{}, len(emojis)),
		now:     time.Now,
		notify:  nopNotifier{},
	}
	for _, e := range emojis {
		s.allowed[e] = struct{}{}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Emojis 返回允许的表情列表，顺序与配置一致。
func (s *ThreadService) Emojis() []string {
	return append([]string(nil), s.emojis...)
}

func (s *ThreadService) nextID(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// get 只返回仍存活的帖子，已过期但尚未清理的视为不存在。
func (s *ThreadService) get(id int64, now time.Time) (*models.Thread, error) {
	t, ok := s.threads[id]
	if !ok || !t.Alive(now) {
		return nil, ErrThreadNotFound()
	}
	return t, nil
}

func (s *ThreadService) CreateThread(in NewThread) (models.Thread, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return models.Thread{}, NewValidation("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return models.Thread{}, NewValidation("title too long")
	}
	if utf8.RuneCountInString(in.Body) > MaxBodyLen {
		return models.Thread{}, NewValidation("body too long")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	t := &models.Thread{
		ID:        s.nextID(now),
		Title:     title,
		Body:      in.Body,
		Image:     in.Image,
		Sensitive: in.Sensitive,
		CreatedAt: now,
		ExpiresAt: s.policy.ExpiresAt(now),
		Reactions: make(map[string]int, len(s.emojis)),
		Replies:   []models.Reply{},
	}
	for _, e := range s.emojis {
		t.Reactions[e] = 0
	}
	s.threads[t.ID] = t
	metrics.ThreadsCreatedTotal.Inc()
	metrics.ThreadsAlive.Set(float64(len(s.threads)))

	out := t.Clone()
	s.notify.Notify(Event{Type: EventThreadCreated, Data: t.Clone()})
	return out, nil
}

// ListThreads 先清理过期帖子，再按 id 倒序返回。
func (s *ThreadService) ListThreads() []models.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(s.now())

	out := make([]models.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *ThreadService) AddReply(threadID int64, text string) (models.Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Reply{}, NewValidation("reply text is required")
	}
	if utf8.RuneCountInString(text) > MaxReplyLen {
		return models.Reply{}, NewValidation("reply too long")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	t, err := s.get(threadID, now)
	if err != nil {
		return models.Reply{}, err
	}
	r := models.Reply{ID: uuid.NewString(), Text: text, CreatedAt: now}
	t.Replies = append(t.Replies, r)
	s.notify.Notify(Event{Type: EventReplyAdded, Data: ReplyAdded{ThreadID: threadID, Reply: r}})
	return r, nil
}

// AddReaction 返回更新后的完整计数表。
func (s *ThreadService) AddReaction(threadID int64, emoji string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(threadID, s.now())
	if err != nil {
		return nil, err
	}
	if _, ok := s.allowed[emoji]; !ok {
		return nil, NewValidation("invalid emoji")
	}
	t.Reactions[emoji]++
	metrics.ReactionsTotal.WithLabelValues(emoji).Inc()

	snapshot := copyCounts(t.Reactions)
	s.notify.Notify(Event{Type: EventReactionUpdated, Data: ReactionUpdated{ThreadID: threadID, Reactions: copyCounts(t.Reactions)}})
	return snapshot, nil
}

func (s *ThreadService) RecordView(threadID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(threadID, s.now())
	if err != nil {
		return 0, err
	}
	t.Views++
	return t.Views, nil
}

// MostViewed 按浏览量倒序，同浏览量时较新的在前。limit 会被限制在 1 到 MaxMostViewed 之间。
func (s *ThreadService) MostViewed(limit int) []models.Thread {
	if limit <= 0 {
		limit = DefaultMostViewed
	}
	if limit > MaxMostViewed {
		limit = MaxMostViewed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]models.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		if t.Alive(now) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PurgeExpired 删除 expiresAt <= now 的帖子并返回被删除的 id（升序）。
func (s *ThreadService) PurgeExpired(now time.Time) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(now)
}

func (s *ThreadService) purgeLocked(now time.Time) []int64 {
	var ids []int64
	for id, t := range s.threads {
		if t.Alive(now) {
			continue
		}
		delete(s.threads, id)
		ids = append(ids, id)
		if t.Image != "" && s.images != nil {
			s.images.Remove(t.Image)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	metrics.ThreadsPurgedTotal.Add(float64(len(ids)))
	metrics.ThreadsAlive.Set(float64(len(s.threads)))
	log.Info().Int("count", len(ids)).Int("alive", len(s.threads)).Msg("threads purged")
	s.notify.Notify(Event{Type: EventThreadsPurged, Data: ThreadsPurged{IDs: append([]int64(nil), ids...)}})
	return ids
}

// ImageRefs 返回所有仍被帖子引用的图片路径。
func (s *ThreadService) ImageRefs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make(map[string]struct{}, len(s.threads))
	for _, t := range s.threads {
		if t.Image != "" {
			refs[t.Image] = struct{}{}
		}
	}
	return refs
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
