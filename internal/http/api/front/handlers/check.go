package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/http/middleware"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
)

// CheckHandler exposes admission decisions to callers that enforce them elsewhere.
type CheckHandler struct {
	decider ratelimit.Decider
}

// NewCheckHandler constructs a CheckHandler.
func NewCheckHandler(decider ratelimit.Decider) *CheckHandler {
	return &CheckHandler{decider: decider}
}

// checkRequest captures a remote admission query.
type checkRequest struct {
	Key     string `json:"key"`     // Explicit limiter key.
	Service string `json:"service"` // Service name; empty uses default.
	IP      string `json:"ip"`      // Client address; empty uses the caller.
	UserID  string `json:"user_id"` // Used when key is empty.
}

type checkResponse struct {
	Allowed    bool           `json:"allowed"`
	Remaining  int            `json:"remaining"`
	Limit      int            `json:"limit"`
	ResetTime  time.Time      `json:"reset_time"`
	RetryAfter *int           `json:"retry_after,omitempty"`
	Gate       ratelimit.Gate `json:"gate,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// Check runs one admission decision and records it when admitted.
func (h *CheckHandler) Check(c *gin.Context) {
	var body checkRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ip := strings.TrimSpace(body.IP)
	if ip == "" {
		ip = c.ClientIP()
	}
	res := h.decider.Check(c.Request.Context(), ratelimit.Request{
		Key:     strings.TrimSpace(body.Key),
		Service: ratelimit.ServiceName(strings.TrimSpace(body.Service)),
		IP:      ip,
		UserID:  strings.TrimSpace(body.UserID),
	})
	middleware.WriteRateLimitHeaders(c, res)

	out := checkResponse{
		Allowed:   res.Allowed,
		Remaining: res.Remaining,
		Limit:     res.Limit,
		ResetTime: res.ResetTime,
		Gate:      res.Gate,
		Reason:    res.Reason,
	}
	status := http.StatusOK
	if !res.Allowed {
		retry := res.RetryAfterSeconds()
		out.RetryAfter = &retry
		status = http.StatusTooManyRequests
	}
	c.JSON(status, out)
}
