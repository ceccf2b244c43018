package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"lurk/internal/mw"
	"lurk/internal/service"
)

// ImageStore 保存并删除上传图片。
type ImageStore interface {
	SaveImage(r io.Reader) (string, error)
	Delete(ref string) error
}

// Handler 聚合看板相关的 HTTP handler。
type Handler struct {
	threads   *service.ThreadService
	reports   *service.ReportService
	images    ImageStore
	maxUpload int64
}

func NewHandler(threads *service.ThreadService, reports *service.ReportService, images ImageStore, maxUpload int64) *Handler {
	return &Handler{threads: threads, reports: reports, images: images, maxUpload: maxUpload}
}

// writeError 统一把业务错误映射为 HTTP 响应，非业务错误只返回通用信息。
func writeError(c *gin.Context, err error) {
	status := service.StatusOf(err)
	var se *service.Error
	switch {
	case status == http.StatusTooManyRequests && errors.As(err, &se):
		secs := mw.RetryAfterSeconds(se.RetryAfter)
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(status, gin.H{"error": se.Error(), "retryAfter": secs})
	case status >= http.StatusInternalServerError:
		ev := log.Error().Str("path", c.FullPath())
		if errors.As(err, &se) {
			ev = ev.Str("trace", se.Trace())
		}
		ev.Err(err).Msg("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
	default:
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
	}
}

func threadID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, service.ErrThreadNotFound()
	}
	return id, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func (h *Handler) ListThreads(c *gin.Context) {
	c.JSON(http.StatusOK, h.threads.ListThreads())
}

// CreateThread 接收 multipart 表单：title、body、sensitive 与可选的 image 文件。
func (h *Handler) CreateThread(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	if err := c.Request.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, service.NewValidation("upload too large"))
			return
		}
		writeError(c, service.NewValidation("invalid form").WithCause(err))
		return
	}
	in := service.NewThread{
		Title:     c.PostForm("title"),
		Body:      c.PostForm("body"),
		Sensitive: parseBool(c.PostForm("sensitive")),
	}
	if strings.TrimSpace(in.Title) == "" {
		writeError(c, service.NewValidation("title is required"))
		return
	}

	fh, err := c.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		writeError(c, service.NewValidation("invalid image").WithCause(err))
		return
	case fh.Size > h.maxUpload:
		writeError(c, service.NewValidation("image too large"))
		return
	default:
		f, err := fh.Open()
		if err != nil {
			writeError(c, service.NewIOFailure("error opening upload").WithCause(err))
			return
		}
		ref, err := h.images.SaveImage(f)
		_ = f.Close()
		if err != nil {
			writeError(c, err)
			return
		}
		in.Image = ref
	}

	t, err := h.threads.CreateThread(in)
	if err != nil {
		if in.Image != "" {
			if derr := h.images.Delete(in.Image); derr != nil {
				log.Warn().Err(derr).Str("ref", in.Image).Msg("remove upload of rejected thread")
			}
		}
		writeError(c, err)
		return
	}
	log.Info().Int64("thread_id", t.ID).Bool("image", t.Image != "").Str("ip", c.ClientIP()).Msg("thread created")
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) AddReply(c *gin.Context) {
	id, err := threadID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.NewValidation("invalid payload"))
		return
	}
	r, err := h.threads.AddReply(id, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) AddReaction(c *gin.Context) {
	id, err := threadID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.NewValidation("invalid payload"))
		return
	}
	counts, err := h.threads.AddReaction(id, req.Emoji)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) RecordView(c *gin.Context) {
	id, err := threadID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	views, err := h.threads.RecordView(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"views": views})
}

func (h *Handler) MostViewed(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	c.JSON(http.StatusOK, h.threads.MostViewed(limit))
}

// looseString 同时接受 JSON 字符串和数字，帖子 id 在客户端里两种写法都有。
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = looseString(n.String())
	return nil
}

func (h *Handler) SubmitReport(c *gin.Context) {
	var req struct {
		Reason   string      `json:"reason"`
		Details  string      `json:"details"`
		ThreadID looseString `json:"threadId"`
		ReplyID  looseString `json:"replyId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.NewValidation("invalid payload"))
		return
	}
	_, err := h.reports.Submit(c.Request.Context(), service.ReportInput{
		Reason:   req.Reason,
		Details:  req.Details,
		ThreadID: string(req.ThreadID),
		ReplyID:  string(req.ReplyID),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
