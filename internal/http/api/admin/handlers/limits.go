package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/models"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/store"
)

// LimitsHandler manages the service and IP tier tables.
type LimitsHandler struct {
	limiter *ratelimit.Limiter
	state   *store.StateStore
}

// NewLimitsHandler constructs a LimitsHandler.
func NewLimitsHandler(limiter *ratelimit.Limiter, state *store.StateStore) *LimitsHandler {
	return &LimitsHandler{limiter: limiter, state: state}
}

// List returns both limit tables.
func (h *LimitsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"services": h.limiter.ServiceLimits(),
		"ip_tiers": h.limiter.IPTierLimits(),
	})
}

// PutService replaces the limits of a service.
func (h *LimitsHandler) PutService(c *gin.Context) {
	service := ratelimit.ServiceName(strings.ToLower(strings.TrimSpace(c.Param("service"))))
	var body ratelimit.Config
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errSet := h.limiter.ConfigureServiceLimits(service, body); errSet != nil {
		writeLimiterError(c, errSet)
		return
	}
	if h.state != nil {
		if errSave := h.state.SaveLimitOverride(c.Request.Context(), models.LimitScopeService, string(service), body); errSave != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist limits failed"})
			return
		}
	}
	audit(c, h.state, "configure_service", string(service), body)
	c.JSON(http.StatusOK, gin.H{"service": service, "limits": body.Normalize()})
}

// DeleteService drops a service so it uses the default limits.
func (h *LimitsHandler) DeleteService(c *gin.Context) {
	service := ratelimit.ServiceName(strings.ToLower(strings.TrimSpace(c.Param("service"))))
	removed, errRemove := h.limiter.RemoveServiceLimits(service)
	if errRemove != nil {
		writeLimiterError(c, errRemove)
		return
	}
	if h.state != nil {
		if errDelete := h.state.DeleteLimitOverride(c.Request.Context(), models.LimitScopeService, string(service)); errDelete != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist limits failed"})
			return
		}
	}
	audit(c, h.state, "remove_service", string(service), nil)
	c.JSON(http.StatusOK, gin.H{"service": service, "removed": removed})
}

// PutTier replaces the limits of an IP tier.
func (h *LimitsHandler) PutTier(c *gin.Context) {
	tier := ratelimit.IPTier(strings.ToLower(strings.TrimSpace(c.Param("tier"))))
	var body ratelimit.Config
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errSet := h.limiter.ConfigureIPTierLimits(tier, body); errSet != nil {
		writeLimiterError(c, errSet)
		return
	}
	if h.state != nil {
		if errSave := h.state.SaveLimitOverride(c.Request.Context(), models.LimitScopeIPTier, string(tier), body); errSave != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist limits failed"})
			return
		}
	}
	audit(c, h.state, "configure_tier", string(tier), body)
	c.JSON(http.StatusOK, gin.H{"tier": tier, "limits": body.Normalize()})
}
