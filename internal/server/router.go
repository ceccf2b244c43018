package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"lurk/internal/config"
	"lurk/internal/metrics"
	"lurk/internal/mw"
	"lurk/internal/service"
	"lurk/internal/ws"
)

type Deps struct {
	Cfg     config.Config
	Threads *service.ThreadService
	Reports *service.ReportService
	Images  ImageStore
	Hub     *ws.Hub
	Limiter *mw.RL
}

// SetupRouter 初始化 Gin 中间件、看板 API、上传文件与 WebSocket 端点。
func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	// 只有显式配置的代理才能通过 X-Forwarded-For 改写客户端 IP，限速身份依赖于此
	if err := r.SetTrustedProxies(d.Cfg.TrustedProxies); err != nil {
		log.Error().Err(err).Strs("trusted_proxies", d.Cfg.TrustedProxies).Msg("invalid trusted proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}))
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(d.Cfg.Env))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static("/uploads", d.Cfg.UploadDir)

	h := NewHandler(d.Threads, d.Reports, d.Images, d.Cfg.MaxUploadBytes)
	r.GET("/threads", h.ListThreads)
	r.GET("/threads/most-viewed", h.MostViewed)
	r.POST("/threads", mw.Limit(d.Limiter, mw.ActionCreateThread), h.CreateThread)
	r.POST("/threads/:id/replies", mw.Limit(d.Limiter, mw.ActionAddReply), h.AddReply)
	r.POST("/threads/:id/react", mw.Limit(d.Limiter, mw.ActionAddReaction), h.AddReaction)
	r.POST("/threads/:id/view", h.RecordView)
	r.POST("/reports", mw.Limit(d.Limiter, mw.ActionSubmitReport), h.SubmitReport)

	if d.Hub != nil {
		r.GET("/ws", ws.Serve(d.Hub))
	}
	return r
}
