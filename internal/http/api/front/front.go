package front

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/http/api/front/handlers"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
)

// RegisterFrontRoutes registers the public decision endpoint.
func RegisterFrontRoutes(r *gin.Engine, decider ratelimit.Decider) {
	if r == nil || decider == nil {
		return
	}
	checkHandler := handlers.NewCheckHandler(decider)
	r.POST("/v0/check", checkHandler.Check)
}
