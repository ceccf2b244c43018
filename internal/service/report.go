package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"lurk/internal/models"
)

const (
	MaxReportDetails = 2000
	MaxReportRef     = 64
)

// ReportSink 是只追加的举报存储。
type ReportSink interface {
	Append(ctx context.Context, r *models.Report) error
}

type ReportInput struct {
	Reason   string
	Details  string
	ThreadID string
	ReplyID  string
}

type ReportService struct {
	sink ReportSink
	now  func() time.Time
}

func NewReportService(sink ReportSink) *ReportService {
	return &ReportService{sink: sink, now: time.Now}
}

// Submit 归一化并截断输入后写入 sink。引用的帖子不做存在性校验。
func (s *ReportService) Submit(ctx context.Context, in ReportInput) (*models.Report, error) {
	r := &models.Report{
		ID:        uuid.NewString(),
		Reason:    models.NormalizeReason(strings.TrimSpace(strings.ToLower(in.Reason))),
		Details:   truncate(strings.TrimSpace(in.Details), MaxReportDetails),
		ThreadID:  truncate(strings.TrimSpace(in.ThreadID), MaxReportRef),
		ReplyID:   truncate(strings.TrimSpace(in.ReplyID), MaxReportRef),
		CreatedAt: s.now().UTC(),
	}
	if err := s.sink.Append(ctx, r); err != nil {
		log.Error().Err(err).Str("report_id", r.ID).Msg("append report")
		return nil, NewIOFailure("failed to store report").WithCause(err)
	}
	log.Info().Str("report_id", r.ID).Str("reason", string(r.Reason)).Str("thread_id", r.ThreadID).Msg("report received")
	return r, nil
}

func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
