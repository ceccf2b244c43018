package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lurk/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type removed struct {
	mu   sync.Mutex
	refs []string
}

func (r *removed) Remove(ref string) {
	r.mu.Lock()
	r.refs = append(r.refs, ref)
	r.mu.Unlock()
}

var testEmojis = []string{"up", "heart", "fire"}

func newTestStore(t *testing.T) (*ThreadService, *fakeClock, *recorder, *removed) {
	t.Helper()
	clk := newFakeClock()
	rec := &recorder{}
	rm := &removed{}
	s := NewThreadService(FixedTTL(time.Hour), testEmojis,
		WithClock(clk.Now), WithNotifier(rec), WithImageRemover(rm))
	return s, clk, rec, rm
}

func TestCreateThread(t *testing.T) {
	s, clk, rec, _ := newTestStore(t)

	th, err := s.CreateThread(NewThread{Title: "  Hello ", Body: "world", Sensitive: true})
	require.NoError(t, err)
	assert.Equal(t, "Hello", th.Title)
	assert.Equal(t, clk.Now(), th.CreatedAt)
	assert.Equal(t, clk.Now().Add(time.Hour), th.ExpiresAt)
	assert.Equal(t, int64(0), th.Views)
	assert.Empty(t, th.Replies)
	assert.Equal(t, map[string]int{"up": 0, "heart": 0, "fire": 0}, th.Reactions)
	assert.True(t, th.Sensitive)

	created := rec.ofType(EventThreadCreated)
	require.Len(t, created, 1)
	assert.Equal(t, th.ID, created[0].Data.(models.Thread).ID)
}

func TestCreateThread_Validation(t *testing.T) {
	long := make([]rune, MaxTitleLen+1)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		name string
		in   NewThread
	}{
		{"empty title", NewThread{Title: ""}},
		{"blank title", NewThread{Title: "   "}},
		{"title too long", NewThread{Title: string(long)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, rec, _ := newTestStore(t)
			_, err := s.CreateThread(tt.in)
			assert.True(t, IsValidation(err))
			assert.Empty(t, s.ListThreads())
			assert.Empty(t, rec.ofType(EventThreadCreated))
		})
	}
}

func TestCreateThread_IDsIncrease(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	a, err := s.CreateThread(NewThread{Title: "a"})
	require.NoError(t, err)
	b, err := s.CreateThread(NewThread{Title: "b"})
	require.NoError(t, err)
	assert.Greater(t, b.ID, a.ID)

	list := s.ListThreads()
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestListThreads_ExpiryScenario(t *testing.T) {
	s, clk, rec, _ := newTestStore(t)
	th, err := s.CreateThread(NewThread{Title: "Hello"})
	require.NoError(t, err)

	clk.Advance(3599 * time.Second)
	list := s.ListThreads()
	require.Len(t, list, 1)
	assert.Equal(t, th.ID, list[0].ID)
	assert.Empty(t, rec.ofType(EventThreadsPurged))

	clk.Advance(2 * time.Second)
	assert.Empty(t, s.ListThreads())
	assert.Empty(t, s.ListThreads())

	purged := rec.ofType(EventThreadsPurged)
	require.Len(t, purged, 1)
	assert.Equal(t, []int64{th.ID}, purged[0].Data.(ThreadsPurged).IDs)
}

func TestListThreads_NeverReturnsExpired(t *testing.T) {
	s, clk, _, _ := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.CreateThread(NewThread{Title: "t"})
		require.NoError(t, err)
		clk.Advance(20 * time.Minute)
	}
	now := clk.Now()
	for _, th := range s.ListThreads() {
		assert.True(t, th.ExpiresAt.After(now))
	}
}

func TestAddReply(t *testing.T) {
	s, _, rec, _ := newTestStore(t)
	th, err := s.CreateThread(NewThread{Title: "x"})
	require.NoError(t, err)

	r, err := s.AddReply(th.ID, "  first ")
	require.NoError(t, err)
	assert.Equal(t, "first", r.Text)
	assert.NotEmpty(t, r.ID)

	_, err = s.AddReply(th.ID, "second")
	require.NoError(t, err)

	list := s.ListThreads()
	require.Len(t, list[0].Replies, 2)
	assert.Equal(t, "first", list[0].Replies[0].Text)
	assert.Equal(t, "second", list[0].Replies[1].Text)

	added := rec.ofType(EventReplyAdded)
	require.Len(t, added, 2)
	assert.Equal(t, th.ID, added[0].Data.(ReplyAdded).ThreadID)
}

func TestAddReply_Errors(t *testing.T) {
	s, clk, _, _ := newTestStore(t)
	th, err := s.CreateThread(NewThread{Title: "x"})
	require.NoError(t, err)

	_, err = s.AddReply(th.ID, "")
	assert.True(t, IsValidation(err))
	assert.Equal(t, 400, StatusOf(err))
	assert.Empty(t, s.ListThreads()[0].Replies)

	_, err = s.AddReply(th.ID+100, "hi")
	assert.True(t, IsNotFound(err))

	clk.Advance(time.Hour)
	_, err = s.AddReply(th.ID, "late")
	assert.True(t, IsNotFound(err))
}

func TestAddReaction(t *testing.T) {
	s, _, rec, _ := newTestStore(t)
	th, err := s.CreateThread(NewThread{Title: "x"})
	require.NoError(t, err)

	counts, err := s.AddReaction(th.ID, "fire")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"up": 0, "heart": 0, "fire": 1}, counts)

	updated := rec.ofType(EventReactionUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, counts, updated[0].Data.(ReactionUpdated).Reactions)
}

func TestAddReaction_InvalidEmojiDoesNotMutate(t *testing.T) {
	s, _, rec, _ := newTestStore(t)
	th, err := s.CreateThread(NewThread{Title: "x"})
	require.NoError(t, err)

	_, err = s.AddReaction(th.ID, "poop")
	assert.True(t, IsValidation(err))
	assert.Equal(t, map[string]int{"up": 0, "heart": 0, "fire": 0}, s.ListThreads()[0].Reactions)
	assert.Empty(t, rec.ofType(EventReactionUpdated))

	_, err = s.AddReaction(th.ID+1, "up")
	assert.True(t, IsNotFound(err))
}

func TestAddReaction_Concurrent(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	th, err := s.CreateThread(NewThread{Title: "x"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AddReaction(th.ID, "up")
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, s.ListThreads()[0].Reactions["up"])
}

func TestRecordView(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	th, err := s.CreateThread(NewThread{Title: "x"})
	require.NoError(t, err)

	v, err := s.RecordView(th.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, err = s.RecordView(th.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = s.RecordView(12345)
	assert.True(t, IsNotFound(err))
}

func TestMostViewed(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	var ids []int64
	for i := 0; i < 12; i++ {
		th, err := s.CreateThread(NewThread{Title: "t"})
		require.NoError(t, err)
		ids = append(ids, th.ID)
	}
	for i := 0; i < 3; i++ {
		_, _ = s.RecordView(ids[0])
	}
	_, _ = s.RecordView(ids[5])
	_, _ = s.RecordView(ids[7])

	top := s.MostViewed(3)
	require.Len(t, top, 3)
	assert.Equal(t, ids[0], top[0].ID)
	// 同浏览量时较新的在前
	assert.Equal(t, ids[7], top[1].ID)
	assert.Equal(t, ids[5], top[2].ID)

	assert.Len(t, s.MostViewed(0), DefaultMostViewed)
	assert.Len(t, s.MostViewed(100), MaxMostViewed)
}

func TestPurgeExpired_Idempotent(t *testing.T) {
	s, clk, rec, rm := newTestStore(t)
	old, err := s.CreateThread(NewThread{Title: "old", Image: "/uploads/a.png"})
	require.NoError(t, err)
	clk.Advance(30 * time.Minute)
	fresh, err := s.CreateThread(NewThread{Title: "fresh", Image: "/uploads/b.png"})
	require.NoError(t, err)

	clk.Advance(31 * time.Minute)
	ids := s.PurgeExpired(clk.Now())
	assert.Equal(t, []int64{old.ID}, ids)
	assert.Equal(t, []string{"/uploads/a.png"}, rm.refs)

	before := s.ListThreads()
	for i := 0; i < 3; i++ {
		assert.Empty(t, s.PurgeExpired(clk.Now()))
	}
	assert.Equal(t, before, s.ListThreads())
	assert.Len(t, rec.ofType(EventThreadsPurged), 1)
	assert.Equal(t, map[string]struct{}{"/uploads/b.png": {}}, s.ImageRefs())
	assert.Equal(t, fresh.ID, before[0].ID)
}

func TestPurgeExpired_Boundary(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	th, err := s.CreateThread(NewThread{Title: "x"})
	require.NoError(t, err)

	assert.Empty(t, s.PurgeExpired(th.ExpiresAt.Add(-time.Nanosecond)))
	assert.Equal(t, []int64{th.ID}, s.PurgeExpired(th.ExpiresAt))
}

func TestEventsInMutationOrder(t *testing.T) {
	s, clk, rec, _ := newTestStore(t)
	th, err := s.CreateThread(NewThread{Title: "x"})
	require.NoError(t, err)
	_, err = s.AddReply(th.ID, "r")
	require.NoError(t, err)
	_, err = s.AddReaction(th.ID, "up")
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	s.PurgeExpired(clk.Now())

	var types []EventType
	for _, e := range rec.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{EventThreadCreated, EventReplyAdded, EventReactionUpdated, EventThreadsPurged}, types)
}

func TestReturnedThreadsAreCopies(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	th, err := s.CreateThread(NewThread{Title: "x"})
	require.NoError(t, err)
	th.Reactions["up"] = 99

	assert.Equal(t, 0, s.ListThreads()[0].Reactions["up"])
}
