package mw

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/discovicke/DucklordChatking/internal/auth"
	"github.com/discovicke/DucklordChatking/internal/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc 决定请求落在哪个令牌桶。
type KeyFunc func(c *gin.Context) string

// ByIP 按客户端 IP 和路由分桶，用于未登录的接口。
func ByIP(c *gin.Context) string {
	return clientIP(c.Request.RemoteAddr) + "|" + route(c)
}

// ByAccount 按登录账号和路由分桶，必须挂在认证中间件之后；未登录时退回 ByIP。
func ByAccount(c *gin.Context) string {
	if acc, ok := auth.GetAccount(c); ok {
		return "acct:" + strconv.FormatInt(acc.ID, 10) + "|" + route(c)
	}
	return ByIP(c)
}

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter 为每个 key 维护一个令牌桶，闲置超过 ttl 的桶由后台协程回收。
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	r       rate.Limit
	burst   int
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

func NewLimiter(r rate.Limit, burst int, ttl time.Duration) *Limiter {
	l := &Limiter{buckets: make(map[string]*bucket), r: r, burst: burst, ttl: ttl, stop: make(chan struct{})}
	go l.gc()
	return l
}

func (l *Limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.r, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, k)
		}
	}
}

func (l *Limiter) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

// Len 返回当前桶的数量。
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop 停止 GC goroutine，用于优雅停服。可重复调用。
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Middleware 返回令牌桶限速中间件。Limiter 为 nil 时不限速。
func (l *Limiter) Middleware(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		if !l.allow(key(c), time.Now()) {
			metrics.RateLimitedTotal.WithLabelValues(route(c)).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
