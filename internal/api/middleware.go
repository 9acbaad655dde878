package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const internalSecretHeader = "X-Internal-Secret"

// internalAuth gates every /api/v1/duel route behind a shared secret,
// compared in constant time so response timing cannot leak how many
// leading bytes matched.
func internalAuth(key string) gin.HandlerFunc {
	keyBytes := []byte(key)
	return func(c *gin.Context) {
		supplied := []byte(c.GetHeader(internalSecretHeader))
		if len(supplied) != len(keyBytes) || subtle.ConstantTimeCompare(supplied, keyBytes) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid or missing internal secret"))
			return
		}
		c.Next()
	}
}

// clientLimiter is a fixed-window-equivalent token bucket: 100 requests per
// minute per client identity (remote address), refilled continuously
// rather than reset on a wall-clock boundary, which avoids the classic
// fixed-window burst-at-the-edge artifact while keeping the same budget.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newClientLimiter() *clientLimiter {
	return &clientLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (c *clientLimiter) get(clientID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/100), 100)
		c.limiters[clientID] = l
	}
	return l
}

// rateLimit enforces 100 requests per minute per remote address. Over
// limit, it responds 429 with a retry-after seconds hint.
func rateLimit(limiter *clientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		l := limiter.get(c.ClientIP())
		res := l.Reserve()
		if !res.OK() || res.Delay() > 0 {
			retryAfter := 60
			if res.OK() {
				retryAfter = int(res.Delay().Seconds() + 1)
			}
			res.Cancel()
			c.Writer.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, map[string]any{
				"success":    false,
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}
