package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/store"
	log "github.com/sirupsen/logrus"
)

// ContextKeyAdminUsername holds the authenticated admin in the gin context.
const ContextKeyAdminUsername = "adminUsername"

func actor(c *gin.Context) string {
	return c.GetString(ContextKeyAdminUsername)
}

// writeLimiterError maps limiter errors onto HTTP responses.
func writeLimiterError(c *gin.Context, err error) {
	var validation *ratelimit.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, ratelimit.ErrUnknownTier):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown ip tier"})
	case errors.Is(err, ratelimit.ErrDefaultService):
		c.JSON(http.StatusBadRequest, gin.H{"error": "default service limits cannot be removed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// audit records an admin action. Failures are logged, never surfaced.
func audit(c *gin.Context, state *store.StateStore, action, subject string, details any) {
	if state == nil {
		return
	}
	if errAudit := state.AppendAudit(c.Request.Context(), action, subject, actor(c), details); errAudit != nil {
		log.WithError(errAudit).WithField("action", action).Warn("admin: append audit failed")
	}
}

func minutes(n float64) time.Duration {
	return time.Duration(n * float64(time.Minute))
}
