package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"campus_market/internal/repository"
	"campus_market/pkg/logger"
)

// RateLimitMiddleware is the coarse per-IP limiter on write endpoints,
// backed by redis so it holds across instances. The fine-grained per-sender
// limit lives in the engines.
type RateLimitMiddleware struct {
	rateLimitRepo repository.RateLimitRepository
	limit         int
	window        time.Duration
	log           logger.Logger
}

func NewRateLimitMiddleware(rateLimitRepo repository.RateLimitRepository, limit int, window time.Duration, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitRepo: rateLimitRepo,
		limit:         limit,
		window:        window,
		log:           log,
	}
}

func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "rate:" + c.ClientIP()

		allowed, count, err := m.rateLimitRepo.Allow(c.Request.Context(), key, m.limit, m.window)
		if err != nil {
			// Redis being down should not take messaging down with it.
			m.log.Error("Rate limit check failed, allowing request", "error", err)
			c.Next()
			return
		}

		remaining := m.limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}
