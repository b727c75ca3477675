package models

import "time"

// IPBlock persists a temporary IP block.
type IPBlock struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	IP        string    `gorm:"type:varchar(64);not null;uniqueIndex"` // Canonical address.
	Reason    string    `gorm:"type:text"`                             // Operator supplied reason.
	BlockedAt time.Time `gorm:"not null"`                              // Block start.
	UnblockAt time.Time `gorm:"not null;index"`                        // Block expiry.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TrustedIP persists an address placed in the trusted tier.
type TrustedIP struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	IP string `gorm:"type:varchar(64);not null;uniqueIndex"` // Canonical address.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
