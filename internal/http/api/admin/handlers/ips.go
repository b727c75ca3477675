package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/store"
)

// IPHandler manages IP blocks and the trusted tier.
type IPHandler struct {
	limiter *ratelimit.Limiter
	state   *store.StateStore
}

// NewIPHandler constructs an IPHandler.
func NewIPHandler(limiter *ratelimit.Limiter, state *store.StateStore) *IPHandler {
	return &IPHandler{limiter: limiter, state: state}
}

// blockIPRequest captures the payload for blocking an IP.
type blockIPRequest struct {
	IP              string  `json:"ip"`               // Address to block.
	DurationMinutes float64 `json:"duration_minutes"` // Block length.
	Reason          string  `json:"reason"`           // Operator note.
}

// Block blocks an IP for the requested duration.
func (h *IPHandler) Block(c *gin.Context) {
	var body blockIPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errBlock := h.limiter.BlockIP(body.IP, minutes(body.DurationMinutes), body.Reason); errBlock != nil {
		writeLimiterError(c, errBlock)
		return
	}
	rec, ok := h.limiter.LookupBlock(body.IP)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "block not recorded"})
		return
	}
	if h.state != nil {
		if errSave := h.state.SaveBlock(c.Request.Context(), rec); errSave != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist block failed"})
			return
		}
	}
	audit(c, h.state, "block_ip", rec.IP, body)
	c.JSON(http.StatusOK, gin.H{
		"ip":           rec.IP,
		"reason":       rec.Reason,
		"blocked_at":   rec.BlockedAt,
		"unblock_time": rec.UnblockAt,
	})
}

// Whitelist removes any block on an IP.
func (h *IPHandler) Whitelist(c *gin.Context) {
	ip := strings.TrimSpace(c.Param("ip"))
	removed, errWhitelist := h.limiter.WhitelistIP(ip)
	if errWhitelist != nil {
		writeLimiterError(c, errWhitelist)
		return
	}
	normalized, _ := ratelimit.NormalizeIP(ip)
	if h.state != nil {
		if errDelete := h.state.DeleteBlock(c.Request.Context(), normalized); errDelete != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist whitelist failed"})
			return
		}
	}
	audit(c, h.state, "whitelist_ip", normalized, nil)
	c.JSON(http.StatusOK, gin.H{"ip": normalized, "removed": removed})
}

// Trust places an IP in the trusted tier.
func (h *IPHandler) Trust(c *gin.Context) {
	ip := strings.TrimSpace(c.Param("ip"))
	if errTrust := h.limiter.TrustIP(ip); errTrust != nil {
		writeLimiterError(c, errTrust)
		return
	}
	normalized, _ := ratelimit.NormalizeIP(ip)
	if h.state != nil {
		if errSave := h.state.SaveTrusted(c.Request.Context(), normalized); errSave != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist trust failed"})
			return
		}
	}
	audit(c, h.state, "trust_ip", normalized, nil)
	c.JSON(http.StatusOK, gin.H{"ip": normalized, "tier": ratelimit.TierTrusted})
}

// Untrust removes an IP from the trusted tier.
func (h *IPHandler) Untrust(c *gin.Context) {
	ip := strings.TrimSpace(c.Param("ip"))
	normalized, errIP := ratelimit.NormalizeIP(ip)
	if errIP != nil {
		writeLimiterError(c, errIP)
		return
	}
	removed := h.limiter.UntrustIP(normalized)
	if h.state != nil {
		if errDelete := h.state.DeleteTrusted(c.Request.Context(), normalized); errDelete != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist untrust failed"})
			return
		}
	}
	audit(c, h.state, "untrust_ip", normalized, nil)
	c.JSON(http.StatusOK, gin.H{"ip": normalized, "removed": removed})
}

// ListBlocked returns the active blocks.
func (h *IPHandler) ListBlocked(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"blocked_ips": h.limiter.BlockedIPs()})
}

// ListTrusted returns the trusted addresses.
func (h *IPHandler) ListTrusted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trusted_ips": h.limiter.TrustedIPs()})
}

// Category returns the tier of an IP.
func (h *IPHandler) Category(c *gin.Context) {
	tier, errTier := h.limiter.CategorizeIP(c.Param("ip"))
	if errTier != nil {
		writeLimiterError(c, errTier)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ip": strings.TrimSpace(c.Param("ip")), "tier": tier})
}
