package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/ratelimitd/internal/db"
	"github.com/router-for-me/ratelimitd/internal/models"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "state.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewStateStore(conn)
}

func TestStateStoreBlocks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SaveBlock(ctx, ratelimit.BlockRecord{IP: "1.2.3.4", Reason: "scan", BlockedAt: now, UnblockAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if err := s.SaveBlock(ctx, ratelimit.BlockRecord{IP: "1.2.3.4", Reason: "abuse", BlockedAt: now, UnblockAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("upsert block: %v", err)
	}
	if err := s.SaveBlock(ctx, ratelimit.BlockRecord{IP: "5.6.7.8", BlockedAt: now, UnblockAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("save block: %v", err)
	}

	active, err := s.ActiveBlocks(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("active blocks: %v", err)
	}
	if len(active) != 1 || active[0].Reason != "abuse" {
		t.Fatalf("expected upserted block only, got %+v", active)
	}

	purged, err := s.PurgeExpired(ctx, now.Add(2*time.Minute))
	if err != nil || purged != 1 {
		t.Fatalf("expected 1 purged row, got %d err=%v", purged, err)
	}
	if err := s.DeleteBlock(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("delete block: %v", err)
	}
	active, _ = s.ActiveBlocks(ctx, now)
	if len(active) != 0 {
		t.Fatalf("expected no blocks, got %+v", active)
	}
}

func TestStateStorePenalties(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = s.SavePenalty(ctx, ratelimit.PenaltyInfo{Key: "u1", Multiplier: 2, AppliedAt: now, ExpiresAt: now.Add(time.Hour)})
	_ = s.SavePenalty(ctx, ratelimit.PenaltyInfo{Key: "u1", Multiplier: 3, AppliedAt: now, ExpiresAt: now.Add(time.Hour)})
	penalties, err := s.ActivePenalties(ctx, now)
	if err != nil {
		t.Fatalf("active penalties: %v", err)
	}
	if len(penalties) != 1 || penalties[0].Multiplier != 3 {
		t.Fatalf("expected single upserted penalty, got %+v", penalties)
	}
	_ = s.DeletePenalty(ctx, "u1")
	penalties, _ = s.ActivePenalties(ctx, now)
	if len(penalties) != 0 {
		t.Fatalf("expected penalty deleted, got %+v", penalties)
	}
}

func TestStateStoreLimitOverrides(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	cfg := ratelimit.Config{RequestsPerMinute: 7, RequestsPerHour: 70, RequestsPerDay: 700, BurstSize: 3, WindowSize: 60}

	if err := s.SaveLimitOverride(ctx, models.LimitScopeService, "reports", cfg); err != nil {
		t.Fatalf("save override: %v", err)
	}
	cfg.BurstSize = 4
	_ = s.SaveLimitOverride(ctx, models.LimitScopeService, "reports", cfg)
	_ = s.SaveLimitOverride(ctx, models.LimitScopeIPTier, "trusted", cfg)

	overrides, err := s.LimitOverrides(ctx)
	if err != nil {
		t.Fatalf("list overrides: %v", err)
	}
	if len(overrides) != 2 {
		t.Fatalf("expected 2 overrides, got %+v", overrides)
	}
	if overrides[0].Scope != models.LimitScopeIPTier || overrides[1].Config.BurstSize != 4 {
		t.Fatalf("expected ordered overrides with upserted burst, got %+v", overrides)
	}
	_ = s.DeleteLimitOverride(ctx, models.LimitScopeService, "reports")
	overrides, _ = s.LimitOverrides(ctx)
	if len(overrides) != 1 {
		t.Fatalf("expected 1 override left, got %+v", overrides)
	}
}

func TestStateStoreAudit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.nowFn = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	_ = s.AppendAudit(ctx, "block_ip", "1.2.3.4", "admin", map[string]any{"minutes": 10})
	_ = s.AppendAudit(ctx, "apply_penalty", "User-42", "admin", nil)
	_ = s.AppendAudit(ctx, "block_ip", "9.9.9.9", "ops", nil)

	events, err := s.ListAudit(ctx, AuditFilter{Action: "block_ip"})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(events) != 2 || events[0].Subject != "9.9.9.9" {
		t.Fatalf("expected newest block first, got %+v", events)
	}
	if len(events[0].ID) != 36 {
		t.Fatalf("expected uuid id, got %q", events[0].ID)
	}

	events, _ = s.ListAudit(ctx, AuditFilter{Subject: "user"})
	if len(events) != 1 || events[0].Action != "apply_penalty" {
		t.Fatalf("expected case-insensitive subject match, got %+v", events)
	}
}

func TestStateStoreTrustedIPs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.SaveTrusted(ctx, "10.0.0.2")
	_ = s.SaveTrusted(ctx, "10.0.0.1")
	if err := s.SaveTrusted(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("expected duplicate trust ignored, got %v", err)
	}
	ips, err := s.TrustedIPs(ctx)
	if err != nil {
		t.Fatalf("trusted ips: %v", err)
	}
	if len(ips) != 2 || ips[0] != "10.0.0.1" {
		t.Fatalf("expected 2 ordered ips, got %v", ips)
	}
	_ = s.DeleteTrusted(ctx, "10.0.0.1")
	ips, _ = s.TrustedIPs(ctx)
	if len(ips) != 1 {
		t.Fatalf("expected 1 trusted ip left, got %v", ips)
	}
}
