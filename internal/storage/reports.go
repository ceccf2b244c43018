package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"lurk/internal/models"
	"lurk/internal/service"
)

// FileReportSink 把举报以 JSON Lines 追加写入本地文件。
type FileReportSink struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileReportSink(path string) (*FileReportSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, service.NewIOFailure("error creating report dir").WithCause(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, service.NewIOFailure("error opening report log").WithCause(err)
	}
	return &FileReportSink{f: f}, nil
}

func (s *FileReportSink) Append(_ context.Context, r *models.Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(b); err != nil {
		return service.NewIOFailure("error writing report").WithCause(err)
	}
	return nil
}

func (s *FileReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
