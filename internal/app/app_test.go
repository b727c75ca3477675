package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/config"
	"github.com/router-for-me/ratelimitd/internal/db"
	"github.com/router-for-me/ratelimitd/internal/models"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/store"
)

func testConfig(t *testing.T) *config.File {
	t.Helper()
	cfg := &config.File{
		DatabaseDSN: "file:" + filepath.Join(t.TempDir(), "app.db"),
		Server:      config.ServerConfig{Port: 8318},
		JWT:         config.JWTConfig{Secret: "test-secret", Expiry: time.Hour},
		Admin:       config.AdminConfig{Username: "admin"},
		Limits: config.LimitsConfig{
			Services: map[ratelimit.ServiceName]ratelimit.Config{
				"reports": {RequestsPerMinute: 4, RequestsPerHour: 40, RequestsPerDay: 400, BurstSize: 4},
			},
			CleanupInterval: time.Minute,
			Retention:       time.Hour,
		},
	}
	return cfg
}

func TestNewServerServesRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server, err := NewServer(context.Background(), testConfig(t), "")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "memory") {
		t.Fatalf("expected healthz 200 with memory backend, got %d %s", w.Code, w.Body.String())
	}

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v0/check", strings.NewReader(`{"key":"k","service":"reports"}`))
		req.Header.Set("Content-Type", "application/json")
		w = httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		want := http.StatusOK
		if i == 4 {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Fatalf("expected %d for request %d, got %d", want, i+1, w.Code)
		}
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ratelimit") {
		t.Fatalf("expected metrics exposition, got %d", w.Code)
	}
}

func TestRestoreStateLoadsPersistedRows(t *testing.T) {
	ctx := context.Background()
	conn, errOpen := db.Open("file:" + filepath.Join(t.TempDir(), "restore.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	state := store.NewStateStore(conn)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := state.SaveBlock(ctx, ratelimit.BlockRecord{IP: "192.0.2.1", Reason: "abuse", BlockedAt: now, UnblockAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if err := state.SaveBlock(ctx, ratelimit.BlockRecord{IP: "192.0.2.2", BlockedAt: now.Add(-2 * time.Hour), UnblockAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("save expired block: %v", err)
	}
	if err := state.SavePenalty(ctx, ratelimit.PenaltyInfo{Key: "user:7", Multiplier: 3, AppliedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("save penalty: %v", err)
	}
	if err := state.SaveTrusted(ctx, "192.0.2.50"); err != nil {
		t.Fatalf("save trusted: %v", err)
	}
	limits := ratelimit.Config{RequestsPerMinute: 3, RequestsPerHour: 30, RequestsPerDay: 300, BurstSize: 1}
	if err := state.SaveLimitOverride(ctx, models.LimitScopeService, "reports", limits); err != nil {
		t.Fatalf("save override: %v", err)
	}

	limiter := ratelimit.NewLimiter(nil, ratelimit.WithClock(func() time.Time { return now }))
	summary, err := RestoreState(ctx, state, limiter)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if summary.Blocks != 1 || summary.Penalties != 1 || summary.Trusted != 1 || summary.Overrides != 1 {
		t.Fatalf("unexpected restore summary: %+v", summary)
	}
	if _, ok := limiter.LookupBlock("192.0.2.1"); !ok {
		t.Fatalf("expected block restored")
	}
	if info, ok := limiter.LookupPenalty("user:7"); !ok || info.Multiplier != 3 {
		t.Fatalf("expected penalty restored, got %+v", info)
	}
	if tier, _ := limiter.CategorizeIP("192.0.2.50"); tier != ratelimit.TierTrusted {
		t.Fatalf("expected trusted tier, got %s", tier)
	}
	if got := limiter.ServiceLimits()["reports"].RequestsPerMinute; got != 3 {
		t.Fatalf("expected override minute limit 3, got %d", got)
	}
}

func TestResolveDSNAndDescribe(t *testing.T) {
	dsn := ResolveDSN(&config.File{})
	if !strings.HasPrefix(dsn, "file:ratelimitd.db?") {
		t.Fatalf("expected sqlite fallback, got %q", dsn)
	}
	if got := describeDSN(dsn); got != "sqlite ratelimitd.db" {
		t.Fatalf("expected sqlite summary, got %q", got)
	}
	if got := describeDSN("postgres://user:pw@db.local:5432/limits?sslmode=disable"); got != "postgres db.local:5432/limits" {
		t.Fatalf("expected redacted postgres summary, got %q", got)
	}
	if got := ResolveDSN(&config.File{DatabaseDSN: "postgres://x@y/z"}); got != "postgres://x@y/z" {
		t.Fatalf("expected configured dsn, got %q", got)
	}
}

func TestConfigureLogging(t *testing.T) {
	if err := ConfigureLogging(config.LoggingConfig{Level: "debug", Format: "json"}); err != nil {
		t.Fatalf("expected valid logging config, got %v", err)
	}
	if err := ConfigureLogging(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
	if err := ConfigureLogging(config.LoggingConfig{Level: "info", Format: "xml"}); err == nil {
		t.Fatalf("expected invalid format error")
	}
	_ = ConfigureLogging(config.LoggingConfig{Level: "info"})
}

func TestNewServerKeepsPersistedOverridesOverConfigFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`database-dsn: "file:%s"
limits:
  services:
    reports:
      requests_per_minute: 4
      requests_per_hour: 40
      requests_per_day: 400
      burst_size: 4
`, filepath.Join(dir, "state.db"))
	if errWrite := os.WriteFile(configPath, []byte(body), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		t.Fatalf("load config: %v", errLoad)
	}

	first, errFirst := NewServer(ctx, cfg, configPath)
	if errFirst != nil {
		t.Fatalf("new server: %v", errFirst)
	}
	override := ratelimit.Config{RequestsPerMinute: 50, RequestsPerHour: 500, RequestsPerDay: 5000, BurstSize: 5}
	if errSave := first.state.SaveLimitOverride(ctx, models.LimitScopeService, "reports", override); errSave != nil {
		t.Fatalf("save override: %v", errSave)
	}
	_ = first.Close()

	cfg, _ = config.Load(configPath)
	second, errSecond := NewServer(ctx, cfg, configPath)
	if errSecond != nil {
		t.Fatalf("restart server: %v", errSecond)
	}
	t.Cleanup(func() { _ = second.Close() })
	if got := second.Limiter().ServiceLimits()["reports"].RequestsPerMinute; got != 50 {
		t.Fatalf("expected restored override 50, got %d", got)
	}
	changed, errReload := second.watcher.Reload()
	if errReload != nil || changed {
		t.Fatalf("expected unchanged config file skipped, got changed=%v err=%v", changed, errReload)
	}
	if got := second.Limiter().ServiceLimits()["reports"].RequestsPerMinute; got != 50 {
		t.Fatalf("expected override kept after watcher start, got %d", got)
	}
}

func TestNewServerIgnoresForwardedForByDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)
	cfg.Admin.LoginRatePerMinute = 3
	server, err := NewServer(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	throttled := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v0/admin/login", strings.NewReader(`{"username":"admin","password":"wrong"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			throttled++
		}
	}
	if throttled != 17 {
		t.Fatalf("expected 17 throttled logins, got %d", throttled)
	}

	blocked := "198.51.100.77"
	if errBlock := server.Limiter().BlockIP(blocked, time.Hour, "spoof"); errBlock != nil {
		t.Fatalf("block: %v", errBlock)
	}
	req := httptest.NewRequest(http.MethodPost, "/v0/check", strings.NewReader(`{"key":"spoof"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", blocked)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected forwarded address ignored, got %d", w.Code)
	}
}
