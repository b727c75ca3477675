package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/ratelimitd/internal/db"
	"github.com/router-for-me/ratelimitd/internal/models"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/settings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateStore persists administrative limiter state via GORM.
type StateStore struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewStateStore constructs a StateStore.
func NewStateStore(conn *gorm.DB) *StateStore {
	return &StateStore{db: conn, nowFn: time.Now}
}

func (s *StateStore) ready(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("state store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.db.WithContext(ctx), nil
}

// SaveBlock upserts an IP block.
func (s *StateStore) SaveBlock(ctx context.Context, rec ratelimit.BlockRecord) error {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return errReady
	}
	row := models.IPBlock{IP: rec.IP, Reason: rec.Reason, BlockedAt: rec.BlockedAt.UTC(), UnblockAt: rec.UnblockAt.UTC()}
	if errSave := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "blocked_at", "unblock_at", "updated_at"}),
	}).Create(&row).Error; errSave != nil {
		return fmt.Errorf("state store: save block: %w", errSave)
	}
	return nil
}

// DeleteBlock removes an IP block.
func (s *StateStore) DeleteBlock(ctx context.Context, ip string) error {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return errReady
	}
	if errDelete := conn.Where("ip = ?", strings.TrimSpace(ip)).Delete(&models.IPBlock{}).Error; errDelete != nil {
		return fmt.Errorf("state store: delete block: %w", errDelete)
	}
	return nil
}

// ActiveBlocks lists blocks that have not expired at now.
func (s *StateStore) ActiveBlocks(ctx context.Context, now time.Time) ([]ratelimit.BlockRecord, error) {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return nil, errReady
	}
	var rows []models.IPBlock
	if errFind := conn.Where("unblock_at > ?", now.UTC()).Order("ip ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("state store: list blocks: %w", errFind)
	}
	out := make([]ratelimit.BlockRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, ratelimit.BlockRecord{IP: row.IP, Reason: row.Reason, BlockedAt: row.BlockedAt, UnblockAt: row.UnblockAt})
	}
	return out, nil
}

// SaveTrusted records ip as trusted.
func (s *StateStore) SaveTrusted(ctx context.Context, ip string) error {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return errReady
	}
	row := models.TrustedIP{IP: strings.TrimSpace(ip)}
	if errSave := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; errSave != nil {
		return fmt.Errorf("state store: save trusted ip: %w", errSave)
	}
	return nil
}

// DeleteTrusted removes ip from the trusted set.
func (s *StateStore) DeleteTrusted(ctx context.Context, ip string) error {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return errReady
	}
	if errDelete := conn.Where("ip = ?", strings.TrimSpace(ip)).Delete(&models.TrustedIP{}).Error; errDelete != nil {
		return fmt.Errorf("state store: delete trusted ip: %w", errDelete)
	}
	return nil
}

// TrustedIPs lists trusted addresses.
func (s *StateStore) TrustedIPs(ctx context.Context) ([]string, error) {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return nil, errReady
	}
	var ips []string
	if errFind := conn.Model(&models.TrustedIP{}).Order("ip ASC").Pluck("ip", &ips).Error; errFind != nil {
		return nil, fmt.Errorf("state store: list trusted ips: %w", errFind)
	}
	return ips, nil
}

// SavePenalty upserts a penalty.
func (s *StateStore) SavePenalty(ctx context.Context, info ratelimit.PenaltyInfo) error {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return errReady
	}
	row := models.Penalty{Key: info.Key, Multiplier: info.Multiplier, AppliedAt: info.AppliedAt.UTC(), ExpiresAt: info.ExpiresAt.UTC()}
	if errSave := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "limiter_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"multiplier", "applied_at", "expires_at", "updated_at"}),
	}).Create(&row).Error; errSave != nil {
		return fmt.Errorf("state store: save penalty: %w", errSave)
	}
	return nil
}

// DeletePenalty removes a penalty.
func (s *StateStore) DeletePenalty(ctx context.Context, key string) error {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return errReady
	}
	if errDelete := conn.Where("limiter_key = ?", strings.TrimSpace(key)).Delete(&models.Penalty{}).Error; errDelete != nil {
		return fmt.Errorf("state store: delete penalty: %w", errDelete)
	}
	return nil
}

// ActivePenalties lists penalties that have not expired at now.
func (s *StateStore) ActivePenalties(ctx context.Context, now time.Time) ([]ratelimit.PenaltyInfo, error) {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return nil, errReady
	}
	var rows []models.Penalty
	if errFind := conn.Where("expires_at > ?", now.UTC()).Order("limiter_key ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("state store: list penalties: %w", errFind)
	}
	out := make([]ratelimit.PenaltyInfo, 0, len(rows))
	for _, row := range rows {
		out = append(out, ratelimit.PenaltyInfo{Key: row.Key, Multiplier: row.Multiplier, AppliedAt: row.AppliedAt, ExpiresAt: row.ExpiresAt})
	}
	return out, nil
}

// PurgeExpired deletes blocks and penalties that expired before now.
func (s *StateStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return 0, errReady
	}
	var total int64
	errTx := conn.Transaction(func(tx *gorm.DB) error {
		blocks := tx.Where("unblock_at <= ?", now.UTC()).Delete(&models.IPBlock{})
		if blocks.Error != nil {
			return blocks.Error
		}
		penalties := tx.Where("expires_at <= ?", now.UTC()).Delete(&models.Penalty{})
		if penalties.Error != nil {
			return penalties.Error
		}
		total = blocks.RowsAffected + penalties.RowsAffected
		return nil
	})
	if errTx != nil {
		return 0, fmt.Errorf("state store: purge expired: %w", errTx)
	}
	return total, nil
}

// SaveLimitOverride upserts the limits of a service or IP tier.
func (s *StateStore) SaveLimitOverride(ctx context.Context, scope, name string, cfg ratelimit.Config) error {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return errReady
	}
	payload, errMarshal := json.Marshal(cfg)
	if errMarshal != nil {
		return fmt.Errorf("state store: marshal limits: %w", errMarshal)
	}
	row := models.LimitOverride{Scope: scope, Name: strings.TrimSpace(name), Config: datatypes.JSON(payload)}
	if errSave := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"config", "updated_at"}),
	}).Create(&row).Error; errSave != nil {
		return fmt.Errorf("state store: save limit override: %w", errSave)
	}
	return nil
}

// DeleteLimitOverride removes a service or IP tier override.
func (s *StateStore) DeleteLimitOverride(ctx context.Context, scope, name string) error {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return errReady
	}
	if errDelete := conn.Where("scope = ? AND name = ?", scope, strings.TrimSpace(name)).Delete(&models.LimitOverride{}).Error; errDelete != nil {
		return fmt.Errorf("state store: delete limit override: %w", errDelete)
	}
	return nil
}

// LimitOverride is a decoded limit override row.
type LimitOverride struct {
	Scope  string
	Name   string
	Config ratelimit.Config
}

// LimitOverrides lists every stored override.
func (s *StateStore) LimitOverrides(ctx context.Context) ([]LimitOverride, error) {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return nil, errReady
	}
	var rows []models.LimitOverride
	if errFind := conn.Order("scope ASC, name ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("state store: list limit overrides: %w", errFind)
	}
	out := make([]LimitOverride, 0, len(rows))
	for _, row := range rows {
		var cfg ratelimit.Config
		if errUnmarshal := json.Unmarshal(row.Config, &cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("state store: decode limit override %s/%s: %w", row.Scope, row.Name, errUnmarshal)
		}
		out = append(out, LimitOverride{Scope: row.Scope, Name: row.Name, Config: cfg})
	}
	return out, nil
}

// AppendAudit records an administrative action.
func (s *StateStore) AppendAudit(ctx context.Context, action, subject, actor string, details any) error {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return errReady
	}
	var payload datatypes.JSON
	if details != nil {
		raw, errMarshal := json.Marshal(details)
		if errMarshal != nil {
			return fmt.Errorf("state store: marshal audit details: %w", errMarshal)
		}
		payload = datatypes.JSON(raw)
	}
	row := models.AuditEvent{
		ID:        uuid.NewString(),
		Action:    action,
		Subject:   subject,
		Actor:     actor,
		Details:   payload,
		CreatedAt: s.nowFn().UTC(),
	}
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		return fmt.Errorf("state store: append audit: %w", errCreate)
	}
	return nil
}

// AuditFilter narrows ListAudit results.
type AuditFilter struct {
	Action  string
	Subject string
	Limit   int
}

// ListAudit returns the newest audit events first.
func (s *StateStore) ListAudit(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error) {
	conn, errReady := s.ready(ctx)
	if errReady != nil {
		return nil, errReady
	}
	q := conn.Model(&models.AuditEvent{})
	if action := strings.TrimSpace(filter.Action); action != "" {
		q = q.Where("action = ?", action)
	}
	if subject := strings.TrimSpace(filter.Subject); subject != "" {
		q = q.Where(db.CaseInsensitiveLikeExpr(s.db, "subject"), db.NormalizeLikePattern(s.db, "%"+subject+"%"))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = settings.DefaultAuditLimit
	}
	var rows []models.AuditEvent
	if errFind := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("state store: list audit: %w", errFind)
	}
	return rows, nil
}
