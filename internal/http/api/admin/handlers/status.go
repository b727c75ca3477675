package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/store"
	log "github.com/sirupsen/logrus"
)

// StatusHandler exposes limiter state and maintenance.
type StatusHandler struct {
	limiter *ratelimit.Limiter
	state   *store.StateStore
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(limiter *ratelimit.Limiter, state *store.StateStore) *StatusHandler {
	return &StatusHandler{limiter: limiter, state: state}
}

// Status returns per-window usage for a key.
func (h *StatusHandler) Status(c *gin.Context) {
	key := strings.TrimSpace(c.Query("key"))
	service := ratelimit.ServiceName(strings.TrimSpace(c.Query("service")))
	status, errStatus := h.limiter.Status(c.Request.Context(), key, service)
	if errStatus != nil {
		writeLimiterError(c, errStatus)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Stats returns the global summary.
func (h *StatusHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.limiter.GlobalStats())
}

// Cleanup runs one maintenance pass.
func (h *StatusHandler) Cleanup(c *gin.Context) {
	report := h.limiter.Cleanup(c.Request.Context())
	var purged int64
	if h.state != nil {
		n, errPurge := h.state.PurgeExpired(c.Request.Context(), report.RanAt)
		if errPurge != nil {
			log.WithError(errPurge).Warn("admin: purge expired state failed")
		}
		purged = n
	}
	audit(c, h.state, "cleanup", "", report)
	c.JSON(http.StatusOK, gin.H{"report": report, "purged_rows": purged})
}

// Anomalies runs anomaly detection.
func (h *StatusHandler) Anomalies(c *gin.Context) {
	anomalies := h.limiter.DetectAnomalies(c.Request.Context())
	if anomalies == nil {
		anomalies = []ratelimit.Anomaly{}
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": anomalies})
}

// ClearCounters resets every counter of a key.
func (h *StatusHandler) ClearCounters(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if errClear := h.limiter.Clear(c.Request.Context(), key); errClear != nil {
		writeLimiterError(c, errClear)
		return
	}
	audit(c, h.state, "clear_counters", key, nil)
	c.JSON(http.StatusOK, gin.H{"key": key, "cleared": true})
}
