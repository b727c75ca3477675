package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/config"
	handlers "github.com/router-for-me/ratelimitd/internal/http/api/admin/handlers"
	"github.com/router-for-me/ratelimitd/internal/http/middleware"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/security"
	"github.com/router-for-me/ratelimitd/internal/store"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, limiter *ratelimit.Limiter, state *store.StateStore, jwtCfg config.JWTConfig, adminCfg config.AdminConfig) {
	if r == nil || limiter == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(limiter)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(jwtCfg, adminCfg)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(jwtCfg, adminCfg))
	if adminCfg.RateLimit {
		authed.Use(middleware.AdmissionMiddleware(limiter, middleware.AdmissionOptions{
			Service: ratelimit.ServiceDefault,
			KeyFunc: func(c *gin.Context) string {
				return "admin:" + c.GetString(handlers.ContextKeyAdminUsername)
			},
		}))
	}

	ipHandler := handlers.NewIPHandler(limiter, state)
	authed.POST("/ips/block", ipHandler.Block)
	authed.GET("/ips/blocked", ipHandler.ListBlocked)
	authed.GET("/ips/trusted", ipHandler.ListTrusted)
	authed.POST("/ips/:ip/whitelist", ipHandler.Whitelist)
	authed.POST("/ips/:ip/trust", ipHandler.Trust)
	authed.DELETE("/ips/:ip/trust", ipHandler.Untrust)
	authed.GET("/ips/:ip/category", ipHandler.Category)

	penaltyHandler := handlers.NewPenaltyHandler(limiter, state)
	authed.POST("/penalties", penaltyHandler.Apply)
	authed.GET("/penalties", penaltyHandler.List)
	authed.DELETE("/penalties/:key", penaltyHandler.Remove)

	statusHandler := handlers.NewStatusHandler(limiter, state)
	authed.GET("/status", statusHandler.Status)
	authed.GET("/stats", statusHandler.Stats)
	authed.POST("/cleanup", statusHandler.Cleanup)
	authed.GET("/anomalies", statusHandler.Anomalies)
	authed.DELETE("/counters/:key", statusHandler.ClearCounters)

	limitsHandler := handlers.NewLimitsHandler(limiter, state)
	authed.GET("/limits", limitsHandler.List)
	authed.PUT("/limits/services/:service", limitsHandler.PutService)
	authed.DELETE("/limits/services/:service", limitsHandler.DeleteService)
	authed.PUT("/limits/tiers/:tier", limitsHandler.PutTier)

	auditHandler := handlers.NewAuditHandler(state)
	authed.GET("/audit", auditHandler.List)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(jwtCfg config.JWTConfig, adminCfg config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Username != adminCfg.Username {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}

		c.Set(handlers.ContextKeyAdminUsername, claims.Username)
		c.Next()
	}
}
