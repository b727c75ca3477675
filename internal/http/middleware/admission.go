package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
)

// Header names read by the admission middleware.
const (
	HeaderAPIKey  = "X-API-Key"
	HeaderService = "X-Service"
	HeaderUserID  = "X-User-ID"
)

// AdmissionOptions customizes AdmissionMiddleware.
type AdmissionOptions struct {
	// Service is used when the request carries no service header.
	Service ratelimit.ServiceName
	// KeyFunc derives the limiter key. Defaults to the API key header, then the client address.
	KeyFunc func(c *gin.Context) string
}

// AdmissionMiddleware rejects requests the limiter does not admit with 429 and rate limit headers.
func AdmissionMiddleware(decider ratelimit.Decider, opts AdmissionOptions) gin.HandlerFunc {
	keyFunc := opts.KeyFunc
	if keyFunc == nil {
		keyFunc = defaultKey
	}
	return func(c *gin.Context) {
		if decider == nil {
			c.Next()
			return
		}
		service := ratelimit.ServiceName(strings.TrimSpace(c.GetHeader(HeaderService)))
		if service == "" {
			service = opts.Service
		}
		res := decider.Check(c.Request.Context(), ratelimit.Request{
			Key:     keyFunc(c),
			Service: service,
			IP:      c.ClientIP(),
			UserID:  strings.TrimSpace(c.GetHeader(HeaderUserID)),
		})
		WriteRateLimitHeaders(c, res)
		if !res.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"gate":        res.Gate,
				"reason":      res.Reason,
				"retry_after": res.RetryAfterSeconds(),
			})
			return
		}
		c.Next()
	}
}

// WriteRateLimitHeaders sets X-RateLimit-* and, for rejections, Retry-After.
func WriteRateLimitHeaders(c *gin.Context, res ratelimit.Result) {
	if res.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.ResetTime.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
	}
	if !res.Allowed {
		c.Header("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
	}
}

func defaultKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); key != "" {
		return "api:" + key
	}
	return "client:" + c.ClientIP()
}
