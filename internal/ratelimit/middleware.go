package ratelimit

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apierr"
)

// KeyFunc extracts the identity a request is counted against.
type KeyFunc func(c *gin.Context) string

// ByClientIP counts requests per caller IP.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// Middleware rejects requests over the limit with 429. Limiter errors let the
// request through.
func Middleware(l Limiter, retryAfter time.Duration, keyFn KeyFunc) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = ByClientIP
	}
	secs := int(retryAfter.Seconds())
	return func(c *gin.Context) {
		key := keyFn(c)
		ok, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			log.Printf("[ratelimit] limiter error key=%s err=%v", key, err)
			c.Next()
			return
		}
		if !ok {
			e := apierr.RateLimited()
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       e.Message,
				"code":        e.Code,
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}
