// internal/api/middleware.go
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Corphon/PickupDesk/internal/services"
	"github.com/Corphon/PickupDesk/internal/utils"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// RateLimiter counts requests per key in fixed windows
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// Visitor represents a client with rate limiting data
type Visitor struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*Visitor),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanup(time.Hour)
	return rl
}

// Stop ends the cleanup loop
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanup removes visitors whose window has passed
func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, visitor := range rl.visitors {
				if now.After(visitor.Reset) {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow takes one request from key's window and returns the window state
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) (bool, Visitor) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	visitor, exists := rl.visitors[key]
	if !exists || now.After(visitor.Reset) {
		visitor = &Visitor{Limit: limit, Remaining: limit, Reset: now.Add(window)}
		rl.visitors[key] = visitor
	}

	if visitor.Remaining <= 0 {
		return false, *visitor
	}
	visitor.Remaining--
	return true, *visitor
}

// Middleware limits requests per key; limit <= 0 disables it
func (rl *RateLimiter) Middleware(limit int, window time.Duration, keyFunc func(*gin.Context) string, rh *ResponseHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		ok, v := rl.Allow(keyFunc(c), limit, window)
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", v.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", v.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", v.Reset.Unix()))
		if !ok {
			rh.Error(c, http.StatusTooManyRequests, ErrorRateLimitExceeded, "Rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// byOperator keys on the authenticated operator and falls back to the client IP
func byOperator(c *gin.Context) string {
	if id := c.GetString(operatorIDKey); id != "" {
		return "op:" + id
	}
	return "ip:" + c.ClientIP()
}

func byIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// requestIDMiddleware tags every request with an id, reusing the caller's when present
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// metricsMiddleware records one sample per request under its route pattern
func metricsMiddleware(metrics *utils.RedemptionMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIRequest(endpoint, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// loggingMiddleware 记录请求日志
func loggingMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": c.GetString(requestIDKey),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", fields)
			return
		}
		logger.Debug("request", fields)
	}
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
