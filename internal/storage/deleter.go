package storage

import (
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/rs/zerolog/log"
)

// FileDeleter 删除单个上传引用，需幂等。
type FileDeleter interface {
	Delete(ref string) error
}

// Deleter 在后台删除图片文件：并发受 quota 限制，正在处理的引用记录在 wip 缓存中避免重复删除。
type Deleter struct {
	files  FileDeleter
	quotas chan struct{}
	wip    gcache.Cache
	wipTTL time.Duration
	wg     sync.WaitGroup
}

func NewDeleter(files FileDeleter, poolSize, cacheSize int) *Deleter {
	return &Deleter{
		files:  files,
		quotas: make(chan struct{}, poolSize),
		wip:    gcache.New(cacheSize).LRU().Build(),
		wipTTL: time.Minute,
	}
}

// Remove 立即返回，删除失败只记录日志。
func (d *Deleter) Remove(ref string) {
	if _, err := d.wip.Get(ref); err == nil {
		log.Debug().Str("ref", ref).Msg("image delete already in flight")
		return
	} else if err != gcache.KeyNotFoundError {
		log.Warn().Err(err).Str("ref", ref).Msg("wip cache lookup")
	}
	if err := d.wip.SetWithExpire(ref, struct{}{}, d.wipTTL); err != nil {
		log.Warn().Err(err).Str("ref", ref).Msg("wip cache set")
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.quotas <- struct{}{}
		defer func() { <-d.quotas }()
		defer d.wip.Remove(ref)
		if err := d.files.Delete(ref); err != nil {
			log.Error().Err(err).Str("ref", ref).Msg("delete image")
			return
		}
		log.Debug().Str("ref", ref).Msg("image deleted")
	}()
}

// Wait 阻塞直到已提交的删除全部完成，用于停服。
func (d *Deleter) Wait() { d.wg.Wait() }
