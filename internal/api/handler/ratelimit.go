package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jmerrifield20/serviceledger/internal/identity"
)

// LimitKeyFunc picks the bucket a request is charged to.
type LimitKeyFunc func(c *gin.Context) string

// ClientIPKey charges every request to its client IP.
func ClientIPKey(c *gin.Context) string { return "ip:" + c.ClientIP() }

// OperatorKey charges requests carrying a valid operator token to that
// operator and everything else to ClientIPKey. A nil issuer always falls
// back to ClientIPKey.
func OperatorKey(tokens *identity.TokenIssuer) LimitKeyFunc {
	if tokens == nil {
		return ClientIPKey
	}
	return func(c *gin.Context) string {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			return ClientIPKey(c)
		}
		claims, err := tokens.Verify(raw)
		if err != nil || claims.Subject == "" {
			return ClientIPKey(c)
		}
		return "operator:" + claims.Subject
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware that enforces token-bucket rate
// limiting per key (per client IP when key is nil). rps is the steady-state
// requests per second; burst is the maximum burst size. Buckets idle for 10
// minutes are swept every 5 minutes until ctx is done.
func RateLimiter(ctx context.Context, rps, burst int, key LimitKeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIPKey
	}

	var mu sync.Mutex
	buckets := make(map[string]*bucket)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for k, b := range buckets {
					if time.Since(b.lastSeen) > 10*time.Minute {
						delete(buckets, k)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(c *gin.Context) {
		k := key(c)

		mu.Lock()
		b, ok := buckets[k]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[k] = b
		}
		b.lastSeen = time.Now()
		mu.Unlock()

		if !b.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
