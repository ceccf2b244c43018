package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// OrphanSweeper 删除不再被任何帖子引用、且早于 olderThan 的上传文件。
type OrphanSweeper interface {
	Sweep(live map[string]struct{}, olderThan time.Time) (int, error)
}

// Purger 定期清理过期帖子及孤立上传文件。
type Purger struct {
	store    *ThreadService
	orphans  OrphanSweeper
	interval time.Duration
	now      func() time.Time
}

func NewPurger(store *ThreadService, orphans OrphanSweeper, interval time.Duration) *Purger {
	return &Purger{store: store, orphans: orphans, interval: interval, now: time.Now}
}

// Run 阻塞直到 ctx 结束。
func (p *Purger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(p.now())
		}
	}
}

// Tick 执行一次清理；没有新过期帖子时重复调用不会改变任何状态。
func (p *Purger) Tick(now time.Time) []int64 {
	ids := p.store.PurgeExpired(now)
	if p.orphans == nil {
		return ids
	}
	n, err := p.orphans.Sweep(p.store.ImageRefs(), now.Add(-p.interval))
	if err != nil {
		log.Warn().Err(err).Msg("orphan upload sweep")
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("orphan uploads removed")
	}
	return ids
}
