package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/config"
	"github.com/router-for-me/ratelimitd/internal/security"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxLoginThrottleEntries caps the per-address login limiters kept in memory.
const maxLoginThrottleEntries = 4096

// AuthHandler issues admin tokens.
type AuthHandler struct {
	jwtCfg   config.JWTConfig
	adminCfg config.AdminConfig
	nowFn    func() time.Time

	mu       sync.Mutex
	throttle map[string]*rate.Limiter
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(jwtCfg config.JWTConfig, adminCfg config.AdminConfig) *AuthHandler {
	return &AuthHandler{
		jwtCfg:   jwtCfg,
		adminCfg: adminCfg,
		nowFn:    time.Now,
		throttle: make(map[string]*rate.Limiter),
	}
}

// loginRequest captures the admin login payload.
type loginRequest struct {
	Username string `json:"username"`  // Admin username.
	Password string `json:"password"`  // Plaintext password.
	TOTPCode string `json:"totp_code"` // Required when a TOTP secret is configured.
}

// Login validates credentials and returns a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	if !h.allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
		return
	}
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username or password"})
		return
	}
	if username != h.adminCfg.Username || !security.CheckPassword(h.adminCfg.PasswordHash, body.Password) {
		log.WithField("ip", c.ClientIP()).Warn("admin: login rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !security.ValidateTOTP(h.adminCfg.TOTPSecret, body.TOTPCode) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp code"})
		return
	}
	token, expiresAt, errIssue := security.IssueAdminToken(h.jwtCfg.Secret, username, h.nowFn(), h.jwtCfg.Expiry)
	if errIssue != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expiresAt})
}

func (h *AuthHandler) allow(ip string) bool {
	perMinute := h.adminCfg.LoginRatePerMinute
	if perMinute <= 0 {
		return true
	}
	now := h.nowFn()
	h.mu.Lock()
	defer h.mu.Unlock()
	limiter, ok := h.throttle[ip]
	if !ok {
		if len(h.throttle) >= maxLoginThrottleEntries {
			h.evictRefilled(now, perMinute)
			if len(h.throttle) >= maxLoginThrottleEntries {
				return false
			}
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		h.throttle[ip] = limiter
	}
	return limiter.AllowN(now, 1)
}

// evictRefilled drops limiters whose bucket is full again; they are indistinguishable from new ones.
func (h *AuthHandler) evictRefilled(now time.Time, burst int) {
	for ip, limiter := range h.throttle {
		if limiter.TokensAt(now) >= float64(burst) {
			delete(h.throttle, ip)
		}
	}
}
