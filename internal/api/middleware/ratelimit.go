package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weisyn/ledgernode/internal/api/jsonrpc/types"
)

// RateLimit 按客户端IP的令牌桶限流，每秒补满 limit 个令牌
type RateLimit struct {
	limit int

	mu       sync.Mutex
	limiters map[string]*rateLimiter
	now      func() time.Time
}

type rateLimiter struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimit 创建限流中间件；limit <= 0 表示不限流
func NewRateLimit(limit int) *RateLimit {
	return &RateLimit{
		limit:    limit,
		limiters: make(map[string]*rateLimiter),
		now:      time.Now,
	}
}

// Middleware 返回Gin中间件
func (m *RateLimit) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, types.Response{
				JSONRPC: "2.0",
				Error: &types.ErrorResponse{
					Code:    types.CodeRateLimited,
					Message: "Request rate limit exceeded",
					Data:    gin.H{"limit": m.limit, "retryAfter": "1s"},
				},
			})
			return
		}
		c.Next()
	}
}

// Allow 消费客户端的一个令牌
func (m *RateLimit) Allow(clientID string) bool {
	if m.limit <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	l, ok := m.limiters[clientID]
	if !ok {
		l = &rateLimiter{tokens: m.limit, lastRefill: now}
		m.limiters[clientID] = l
	}
	if refill := int(now.Sub(l.lastRefill).Seconds()) * m.limit; refill > 0 {
		l.tokens += refill
		if l.tokens > m.limit {
			l.tokens = m.limit
		}
		l.lastRefill = now
	}
	if l.tokens > 0 {
		l.tokens--
		return true
	}
	return false
}
