package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent records an administrative action.
type AuditEvent struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // UUID.

	Action  string         `gorm:"type:varchar(64);not null;index"` // Operation name.
	Subject string         `gorm:"type:varchar(255);index"`         // Key, IP, service or tier.
	Actor   string         `gorm:"type:varchar(255)"`               // Administrator username.
	Details datatypes.JSON `gorm:"type:jsonb"`                      // Operation arguments.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
