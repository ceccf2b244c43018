package names

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	Prefix     = "ghost"
	maxRetries = 20
)

type record struct {
	inUse         bool
	reservedUntil time.Time
}

// Registry 分配匿名昵称。释放后的昵称在保留期内不会被重新分配。
type Registry struct {
	mu          sync.Mutex
	names       map[string]*record
	reservation time.Duration
	now         func() time.Time
	rnd         func() int
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRand 替换候选编号的生成函数，返回值取模 10000。
func WithRand(f func() int) Option {
	return func(r *Registry) { r.rnd = f }
}

func NewRegistry(reservation time.Duration, opts ...Option) *Registry {
	r := &Registry{
		names:       make(map[string]*record),
		reservation: reservation,
		now:         time.Now,
		rnd:         func() int { return rand.Intn(10000) },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) available(name string, now time.Time) bool {
	rec, ok := r.names[name]
	return !ok || (!rec.inUse && !now.Before(rec.reservedUntil))
}

// Assign 返回一个可用昵称并标记为使用中。
func (r *Registry) Assign() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	name := ""
	for i := 0; i < maxRetries; i++ {
		c := fmt.Sprintf("%s%04d", Prefix, r.rnd()%10000)
		if r.available(c, now) {
			name = c
			break
		}
	}
	if name == "" {
		name = fmt.Sprintf("%s%d", Prefix, now.UnixNano()%1_000_000_000)
		for !r.available(name, now) {
			name += "x"
		}
		log.Warn().Str("name", name).Msg("name candidates exhausted, using time-derived name")
	}
	r.names[name] = &record{inUse: true, reservedUntil: now.Add(r.reservation)}
	return name
}

// Release 标记为未使用，但保留期不变。
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.names[name]; ok {
		rec.inUse = false
	}
}

// Touch 在聊天活动时延长保留期。
func (r *Registry) Touch(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.names[name]; ok {
		rec.reservedUntil = r.now().Add(r.reservation)
	}
}

// Sweep 回收已过保留期且未使用的记录，返回回收数量。
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, rec := range r.names {
		if !rec.inUse && !now.Before(rec.reservedUntil) {
			delete(r.names, name)
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				log.Debug().Int("count", n).Msg("names reclaimed")
			}
		}
	}
}
