package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_event_streams",
		Help: "Current number of connected change event streams",
	})
	MessagesPostedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_posted_total",
		Help: "Total number of chat messages accepted by the log",
	})
	PollRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_poll_requests_total",
		Help: "Total number of incremental fetch requests",
	}, []string{"result"})
	StoreLockWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_store_lock_wait_seconds",
		Help:    "Time spent waiting to acquire a store guard",
		Buckets: []float64{.00001, .0001, .001, .01, .1, 1},
	}, []string{"store", "kind"})
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"path"})
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
	prometheus.MustRegister(EventStreams, MessagesPostedTotal, PollRequestsTotal, StoreLockWait, RateLimitedTotal, HttpRequestsTotal, HttpRequestDuration)
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
