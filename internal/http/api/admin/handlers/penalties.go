package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/store"
)

// PenaltyHandler manages quota penalties.
type PenaltyHandler struct {
	limiter *ratelimit.Limiter
	state   *store.StateStore
}

// NewPenaltyHandler constructs a PenaltyHandler.
func NewPenaltyHandler(limiter *ratelimit.Limiter, state *store.StateStore) *PenaltyHandler {
	return &PenaltyHandler{limiter: limiter, state: state}
}

// applyPenaltyRequest captures the payload for applying a penalty.
type applyPenaltyRequest struct {
	Key             string  `json:"key"`              // Logical limiter key.
	Multiplier      float64 `json:"multiplier"`       // Quota divisor, at least 1.
	DurationMinutes float64 `json:"duration_minutes"` // Penalty length.
}

// Apply sets a penalty on a key.
func (h *PenaltyHandler) Apply(c *gin.Context) {
	var body applyPenaltyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errApply := h.limiter.ApplyPenalty(body.Key, body.Multiplier, minutes(body.DurationMinutes)); errApply != nil {
		writeLimiterError(c, errApply)
		return
	}
	info, ok := h.limiter.LookupPenalty(body.Key)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "penalty not recorded"})
		return
	}
	if h.state != nil {
		if errSave := h.state.SavePenalty(c.Request.Context(), info); errSave != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist penalty failed"})
			return
		}
	}
	audit(c, h.state, "apply_penalty", info.Key, body)
	c.JSON(http.StatusOK, info)
}

// Remove drops the penalty on a key.
func (h *PenaltyHandler) Remove(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	removed := h.limiter.RemovePenalty(key)
	if h.state != nil {
		if errDelete := h.state.DeletePenalty(c.Request.Context(), key); errDelete != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist penalty removal failed"})
			return
		}
	}
	audit(c, h.state, "remove_penalty", key, nil)
	c.JSON(http.StatusOK, gin.H{"key": key, "removed": removed})
}

// List returns the active penalties.
func (h *PenaltyHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"penalties": h.limiter.Penalties()})
}
