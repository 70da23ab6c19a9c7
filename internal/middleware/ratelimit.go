package middleware

import (
	"sync"

	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/GoPolymarket/credcalls/internal/pkg/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per identity.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[common.Address]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewRateLimiter(qps float64, burst int) *RateLimiter {
	if qps <= 0 {
		qps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		limiters: make(map[common.Address]*rate.Limiter),
		limit:    rate.Limit(qps),
		burst:    burst,
	}
}

func (r *RateLimiter) limiterFor(id common.Address) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[id]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[id] = l
	}
	return l
}

// RateLimitMiddleware must run after IdentityMiddleware.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			_ = c.Error(apperrors.New(apperrors.ErrAuthFailed, "unauthorized", nil))
			c.Abort()
			return
		}

		if !rl.limiterFor(id).Allow() {
			metrics.RateLimited.Inc()
			c.Header("Retry-After", "1")
			_ = c.Error(apperrors.New(apperrors.ErrRateLimited, "rate limit exceeded", nil))
			c.Abort()
			return
		}

		c.Next()
	}
}
