package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/settings"
	"github.com/router-for-me/ratelimitd/internal/store"
)

// AuditHandler lists administrative actions.
type AuditHandler struct {
	state *store.StateStore
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(state *store.StateStore) *AuditHandler {
	return &AuditHandler{state: state}
}

type auditEvent struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Subject   string          `json:"subject"`
	Actor     string          `json:"actor"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// List returns recent audit events filtered by action and subject.
func (h *AuditHandler) List(c *gin.Context) {
	if h.state == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log unavailable"})
		return
	}
	limit := settings.DefaultAuditLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	rows, errList := h.state.ListAudit(c.Request.Context(), store.AuditFilter{
		Action:  strings.TrimSpace(c.Query("action")),
		Subject: strings.TrimSpace(c.Query("subject")),
		Limit:   limit,
	})
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list audit failed"})
		return
	}
	out := make([]auditEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, auditEvent{
			ID:        row.ID,
			Action:    row.Action,
			Subject:   row.Subject,
			Actor:     row.Actor,
			Details:   json.RawMessage(row.Details),
			CreatedAt: row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}
