package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
)

// HealthHandler reports liveness and the counter backend.
type HealthHandler struct {
	limiter *ratelimit.Limiter
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(limiter *ratelimit.Limiter) *HealthHandler {
	return &HealthHandler{limiter: limiter}
}

// Healthz responds with the backend in use.
func (h *HealthHandler) Healthz(c *gin.Context) {
	stats := h.limiter.GlobalStats()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": stats.Backend})
}
