package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"lurk/internal/config"
	"lurk/internal/metrics"
)

type Action string

const (
	ActionCreateThread Action = "create-thread"
	ActionAddReply     Action = "add-reply"
	ActionAddReaction  Action = "add-reaction"
	ActionSubmitReport Action = "submit-report"
	ActionChatMessage  Action = "chat-message"
)

// Policy: Window 内最多 Cap 次，超出后封禁 Block。
type Policy struct {
	Window time.Duration
	Cap    int
	Block  time.Duration
}

func (p Policy) limit() rate.Limit {
	return rate.Limit(float64(p.Cap) / p.Window.Seconds())
}

// PoliciesFrom 把配置中的限速项转换为按动作索引的策略表。
func PoliciesFrom(limits map[string]config.RateLimit) map[Action]Policy {
	out := make(map[Action]Policy, len(limits))
	for name, l := range limits {
		out[Action(name)] = Policy{Window: l.Window, Cap: l.Cap, Block: l.Block}
	}
	return out
}

type bucket struct {
	lim          *rate.Limiter
	blockedUntil time.Time
	ts           time.Time
}

// RL 按 (动作, 身份) 维护令牌桶，身份通常是客户端 IP。
type RL struct {
	mu       sync.Mutex
	m        map[string]*bucket
	policies map[Action]Policy
	ttl      time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(policies map[Action]Policy, ttl time.Duration) *RL {
	return &RL{
		m:        make(map[string]*bucket),
		policies: policies,
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Allow 判断本次请求是否放行；拒绝时返回建议的重试等待时间。
// 未配置策略的动作总是放行。
func (rl *RL) Allow(action Action, identity string) (bool, time.Duration) {
	p, ok := rl.policies[action]
	if !ok {
		return true, 0
	}
	key := string(action) + "|" + identity

	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	b, ok := rl.m[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(p.limit(), p.Cap)}
		rl.m[key] = b
	}
	b.ts = now

	if now.Before(b.blockedUntil) {
		return false, b.blockedUntil.Sub(now)
	}
	if !b.blockedUntil.IsZero() {
		// 封禁结束后从满桶重新开始
		b.lim = rate.NewLimiter(p.limit(), p.Cap)
		b.blockedUntil = time.Time{}
	}
	if b.lim.AllowN(now, 1) {
		return true, 0
	}
	if p.Block > 0 {
		b.blockedUntil = now.Add(p.Block)
		return false, p.Block
	}
	r := b.lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// Len 返回当前跟踪的桶数量。
func (rl *RL) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.m)
}

// evict 删除长时间空闲且未处于封禁期的桶。
func (rl *RL) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for k, b := range rl.m {
		if now.Sub(b.ts) > rl.ttl && !now.Before(b.blockedUntil) {
			delete(rl.m, k)
		}
	}
}

func (rl *RL) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// StartGC 启动后台回收 goroutine，需配合 Stop 使用。
func (rl *RL) StartGC() { go rl.gc() }

// Stop 停止 GC goroutine，用于优雅停服。
func (rl *RL) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// RetryAfterSeconds 向上取整，至少为 1 秒。
func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Limit 返回按客户端 IP 对指定动作限速的中间件。
func Limit(rl *RL, action Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		ok, wait := rl.Allow(action, ip)
		if ok {
			c.Next()
			return
		}
		metrics.RateLimitedTotal.WithLabelValues(string(action)).Inc()
		log.Debug().Str("action", string(action)).Str("ip", ip).Dur("retry_after", wait).Msg("rate limited")
		secs := RetryAfterSeconds(wait)
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "retryAfter": secs})
	}
}
