package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/segmentio/ksuid"

	"lurk/internal/service"
)

// URLPrefix 是上传文件对外的路径前缀，帖子中保存的图片引用形如 /uploads/<file>。
const URLPrefix = "/uploads/"

var imageExts = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Local 把上传图片保存在本地目录中，文件名由 ksuid 生成。
type Local struct {
	dir      string
	maxBytes int64
}

func NewLocal(dir string, maxBytes int64) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, service.NewIOFailure("error creating upload dir").WithCause(err)
	}
	return &Local{dir: dir, maxBytes: maxBytes}, nil
}

func (l *Local) Dir() string { return l.dir }

// SaveImage 按内容嗅探类型而不是信任客户端声明，超过大小上限或类型不符返回 ValidationError。
func (l *Local) SaveImage(r io.Reader) (string, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return "", service.NewValidation("error reading image").WithCause(err)
	}
	if n > l.maxBytes {
		return "", service.NewValidation("image too large")
	}
	if n == 0 {
		return "", service.NewValidation("empty image")
	}
	ext, ok := imageExt(mimetype.Detect(buf.Bytes()))
	if !ok {
		return "", service.NewValidation("unsupported image type")
	}
	name := ksuid.New().String() + ext
	if err := os.WriteFile(filepath.Join(l.dir, name), buf.Bytes(), 0o644); err != nil {
		return "", service.NewIOFailure("error saving image").WithCause(err)
	}
	return URLPrefix + name, nil
}

func imageExt(mt *mimetype.MIME) (string, bool) {
	for m := mt; m != nil; m = m.Parent() {
		if ext, ok := imageExts[m.String()]; ok {
			return ext, true
		}
	}
	return "", false
}

func (l *Local) path(ref string) (string, error) {
	name := strings.TrimPrefix(ref, URLPrefix)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", service.NewValidation("invalid upload reference")
	}
	return filepath.Join(l.dir, name), nil
}

// Delete 是幂等的，文件不存在不算错误。
func (l *Local) Delete(ref string) error {
	p, err := l.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return service.NewIOFailure("error removing upload").WithCause(err)
	}
	return nil
}

// Sweep 删除未被 live 引用且修改时间早于 olderThan 的文件，返回删除数量。
// 单个文件删除失败不会中断扫描。
func (l *Local) Sweep(live map[string]struct{}, olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, service.NewIOFailure("error listing uploads").WithCause(err)
	}
	var removed int
	var firstErr error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, ok := live[URLPrefix+e.Name()]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(olderThan) {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = service.NewIOFailure("error removing orphan upload").WithCause(err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}
