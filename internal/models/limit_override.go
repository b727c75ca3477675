package models

import (
	"time"

	"gorm.io/datatypes"
)

// Limit override scopes.
const (
	LimitScopeService = "service"
	LimitScopeIPTier  = "ip_tier"
)

// LimitOverride persists limits configured at runtime for a service or IP tier.
type LimitOverride struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Scope  string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_limit_overrides_scope_name"`  // service or ip_tier.
	Name   string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_limit_overrides_scope_name"` // Service or tier name.
	Config datatypes.JSON `gorm:"type:jsonb;not null"`                                                   // Serialized limits.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
