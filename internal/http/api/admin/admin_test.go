package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/router-for-me/ratelimitd/internal/config"
	"github.com/router-for-me/ratelimitd/internal/db"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/security"
	"github.com/router-for-me/ratelimitd/internal/store"
	"gorm.io/gorm"
)

const testPassword = "s3cret-pass"

type adminFixture struct {
	router  *gin.Engine
	limiter *ratelimit.Limiter
	state   *store.StateStore
	now     time.Time
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	return newAdminFixtureWith(t, false)
}

func newAdminFixtureWith(t *testing.T, rateLimit bool) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, errOpen := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "admin.db")), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	hash, errHash := security.HashPassword(testPassword)
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}

	f := &adminFixture{now: time.Now().UTC()}
	f.limiter = ratelimit.NewLimiter(nil, ratelimit.WithClock(func() time.Time { return f.now }))
	f.state = store.NewStateStore(conn)
	f.router = gin.New()
	RegisterAdminRoutes(f.router, f.limiter, f.state,
		config.JWTConfig{Secret: "test-secret", Expiry: time.Hour},
		config.AdminConfig{Username: "admin", PasswordHash: hash, LoginRatePerMinute: 3, RateLimit: rateLimit},
	)
	return f
}

func (f *adminFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if errEncode := json.NewEncoder(&payload).Encode(body); errEncode != nil {
			t.Fatalf("encode body: %v", errEncode)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *adminFixture) login(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v0/admin/login", "", map[string]string{"username": "admin", "password": testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("expected login 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil || resp.Token == "" {
		t.Fatalf("expected token in login response, got %s", w.Body.String())
	}
	return resp.Token
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(t, http.MethodGet, "/v0/admin/stats", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/v0/admin/stats", "garbage", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", w.Code)
	}
}

func TestAdminLoginRejectsAndThrottles(t *testing.T) {
	f := newAdminFixture(t)

	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/v0/admin/login", "", map[string]string{"username": "admin", "password": "wrong"})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for attempt %d, got %d", i+1, w.Code)
		}
	}
	w := f.do(t, http.MethodPost, "/v0/admin/login", "", map[string]string{"username": "admin", "password": testPassword})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected throttled login, got %d", w.Code)
	}
}

func TestAdminBlockLifecyclePersists(t *testing.T) {
	f := newAdminFixture(t)
	token := f.login(t)
	ctx := context.Background()

	w := f.do(t, http.MethodPost, "/v0/admin/ips/block", token, map[string]any{"ip": "203.0.113.9", "duration_minutes": 1, "reason": "scan"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected block 200, got %d: %s", w.Code, w.Body.String())
	}
	blocks, errBlocks := f.state.ActiveBlocks(ctx, f.now)
	if errBlocks != nil || len(blocks) != 1 || blocks[0].IP != "203.0.113.9" {
		t.Fatalf("expected persisted block, got %v (err %v)", blocks, errBlocks)
	}

	res := f.limiter.Check(ctx, ratelimit.Request{Key: "k", IP: "203.0.113.9"})
	if res.Allowed || res.Gate != ratelimit.GateIPBlock {
		t.Fatalf("expected ip_block rejection, got %+v", res)
	}

	w = f.do(t, http.MethodPost, "/v0/admin/ips/203.0.113.9/whitelist", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected whitelist 200, got %d", w.Code)
	}
	blocks, _ = f.state.ActiveBlocks(ctx, f.now)
	if len(blocks) != 0 {
		t.Fatalf("expected persisted block removed, got %v", blocks)
	}
	if res = f.limiter.Check(ctx, ratelimit.Request{Key: "k", IP: "203.0.113.9"}); !res.Allowed {
		t.Fatalf("expected admission after whitelist, got %+v", res)
	}

	w = f.do(t, http.MethodPost, "/v0/admin/ips/block", token, map[string]any{"ip": "not-an-ip", "duration_minutes": 1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid ip, got %d", w.Code)
	}

	events, errAudit := f.state.ListAudit(ctx, store.AuditFilter{Subject: "203.0.113.9"})
	if errAudit != nil || len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d (err %v)", len(events), errAudit)
	}
	if events[0].Actor != "admin" {
		t.Fatalf("expected actor admin, got %q", events[0].Actor)
	}
}

func TestAdminPenaltyAndLimits(t *testing.T) {
	f := newAdminFixture(t)
	token := f.login(t)
	ctx := context.Background()

	w := f.do(t, http.MethodPost, "/v0/admin/penalties", token, map[string]any{"key": "user:1", "multiplier": 0.5, "duration_minutes": 5})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for multiplier below 1, got %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/v0/admin/penalties", token, map[string]any{"key": "user:1", "multiplier": 2, "duration_minutes": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("expected penalty 200, got %d: %s", w.Code, w.Body.String())
	}
	penalties, _ := f.state.ActivePenalties(ctx, f.now)
	if len(penalties) != 1 || penalties[0].Multiplier != 2 {
		t.Fatalf("expected persisted penalty, got %v", penalties)
	}

	w = f.do(t, http.MethodGet, "/v0/admin/status?key=user:1", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var status ratelimit.Status
	if errDecode := json.Unmarshal(w.Body.Bytes(), &status); errDecode != nil {
		t.Fatalf("decode status: %v", errDecode)
	}
	if status.Limits.RequestsPerMinute != 30 {
		t.Fatalf("expected penalized minute limit 30, got %d", status.Limits.RequestsPerMinute)
	}

	w = f.do(t, http.MethodPut, "/v0/admin/limits/services/reports", token, map[string]any{
		"requests_per_minute": 5, "requests_per_hour": 50, "requests_per_day": 500, "burst_size": 2,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected put service 200, got %d: %s", w.Code, w.Body.String())
	}
	overrides, _ := f.state.LimitOverrides(ctx)
	if len(overrides) != 1 || overrides[0].Name != "reports" {
		t.Fatalf("expected persisted override, got %v", overrides)
	}
	w = f.do(t, http.MethodPut, "/v0/admin/limits/tiers/gold", token, map[string]any{
		"requests_per_minute": 5, "requests_per_hour": 50, "requests_per_day": 500, "burst_size": 2,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tier, got %d", w.Code)
	}
	w = f.do(t, http.MethodDelete, "/v0/admin/limits/services/default", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 deleting default, got %d", w.Code)
	}
}

func TestAdminCleanupAndAnomalies(t *testing.T) {
	f := newAdminFixture(t)
	token := f.login(t)

	w := f.do(t, http.MethodPost, "/v0/admin/cleanup", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected cleanup 200, got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/v0/admin/anomalies", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected anomalies 200, got %d", w.Code)
	}
	var resp struct {
		Anomalies []ratelimit.Anomaly `json:"anomalies"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode anomalies: %v", errDecode)
	}
	if len(resp.Anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %v", resp.Anomalies)
	}
	w = f.do(t, http.MethodGet, "/v0/admin/audit?action=cleanup", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected audit 200, got %d", w.Code)
	}
}

func TestAdminRateLimitOptIn(t *testing.T) {
	f := newAdminFixtureWith(t, true)
	token := f.login(t)

	for i := 0; i < 10; i++ {
		w := f.do(t, http.MethodGet, "/v0/admin/stats", token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected stats 200 for call %d, got %d", i+1, w.Code)
		}
	}
	w := f.do(t, http.MethodGet, "/v0/admin/stats", token, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected admin burst exhausted, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "10" {
		t.Fatalf("expected Retry-After 10, got %q", w.Header().Get("Retry-After"))
	}

	status, errStatus := f.limiter.Status(context.Background(), "admin:admin", ratelimit.ServiceDefault)
	if errStatus != nil || status.Usage[ratelimit.WindowBurst].Used != 10 {
		t.Fatalf("expected admin key usage 10, got %+v (err %v)", status.Usage[ratelimit.WindowBurst], errStatus)
	}
}
