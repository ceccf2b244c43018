package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lurk_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lurk_ws_dropped_total",
		Help: "Outbound frames dropped because a client send buffer was full",
	})
	ChatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lurk_chat_messages_total",
		Help: "Total number of global chat messages relayed",
	})
	ThreadsAlive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lurk_threads_alive",
		Help: "Threads currently held in memory",
	})
	ThreadsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lurk_threads_created_total",
		Help: "Total number of threads created",
	})
	ThreadsPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lurk_threads_purged_total",
		Help: "Total number of expired threads removed",
	})
	ReactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lurk_reactions_total",
		Help: "Total number of reactions by symbol",
	}, []string{"emoji"})
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lurk_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"action"})
	VideoRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lurk_video_rooms",
		Help: "Video rooms with at least one member",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsDroppedTotal, ChatMessagesTotal,
		ThreadsAlive, ThreadsCreatedTotal, ThreadsPurgedTotal, ReactionsTotal,
		RateLimitedTotal, VideoRooms,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
