package middleware

import (
	"net/http"
	"strconv"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"

	"chat-sync/internal/apperr"
)

// SendRateLimit allows each caller limit requests per second. Callers are keyed
// by user id, or by client IP before authentication.
func SendRateLimit(limit uint) gin.HandlerFunc {
	store := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Second,
		Limit: limit,
	})
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: rateLimited,
		KeyFunc:      rateKey,
	})
}

func rateKey(c *gin.Context) string {
	if id := c.GetString(UserIDKey); id != "" {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}

func rateLimited(c *gin.Context, info ratelimit.Info) {
	retry := time.Until(info.ResetTime).Seconds()
	if retry < 1 {
		retry = 1
	}
	c.Header("Retry-After", strconv.Itoa(int(retry)))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many messages, slow down", "code": apperr.CodeResourceExhausted})
}
