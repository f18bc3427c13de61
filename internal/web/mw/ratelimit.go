// Package mw holds the gin middleware of the operator API.
package mw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP. Buckets of clients
// that went quiet expire.
type IPRateLimiter struct {
	ips *cache.Cache
	r   rate.Limit
	b   int
}

func NewIPRateLimiter(r rate.Limit, b int, idle time.Duration) *IPRateLimiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &IPRateLimiter{ips: cache.New(idle, 2*idle), r: r, b: b}
}

// Limiter returns the bucket for ip, creating it on first use.
func (i *IPRateLimiter) Limiter(ip string) *rate.Limiter {
	if l, ok := i.ips.Get(ip); ok {
		i.ips.SetDefault(ip, l)
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(i.r, i.b)
	if err := i.ips.Add(ip, l, cache.DefaultExpiration); err != nil {
		// lost the race to another request from the same ip
		if existing, ok := i.ips.Get(ip); ok {
			return existing.(*rate.Limiter)
		}
	}
	return l
}

// RateLimiter rejects clients above r requests per second with 429.
func RateLimiter(l *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Limiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
