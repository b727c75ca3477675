package models

import "time"

// Penalty persists a temporary quota multiplier on a logical key.
type Penalty struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key        string    `gorm:"column:limiter_key;type:varchar(255);not null;uniqueIndex"` // Logical limiter key.
	Multiplier float64   `gorm:"not null;default:1"`                                        // Quota divisor.
	AppliedAt  time.Time `gorm:"not null"`                                                  // Penalty start.
	ExpiresAt  time.Time `gorm:"not null;index"`                                            // Penalty expiry.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
