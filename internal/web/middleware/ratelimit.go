package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"sudooom.im.relay/pkg/response"
)

// limiterPool 按客户端 IP 维护令牌桶
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	lastGC   time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(requestsPerMinute, burst int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(requestsPerMinute) / 60),
		burst:    burst,
		idle:     10 * time.Minute,
		lastGC:   time.Now(),
	}
}

func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 定期清理长时间未访问的客户端
	if now.Sub(p.lastGC) > p.idle {
		for k, e := range p.limiters {
			if now.Sub(e.lastSeen) > p.idle {
				delete(p.limiters, k)
			}
		}
		p.lastGC = now
	}

	e, ok := p.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// RateLimit 按客户端 IP 限流，requestsPerMinute <= 0 时不限流
func RateLimit(requestsPerMinute, burst int) gin.HandlerFunc {
	if requestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	pool := newLimiterPool(requestsPerMinute, burst)
	return func(c *gin.Context) {
		if !pool.get(c.ClientIP(), time.Now()).Allow() {
			response.TooManyRequests(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
