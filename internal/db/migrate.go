package db

import (
	"fmt"

	"github.com/router-for-me/ratelimitd/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

func autoMigrate(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.IPBlock{},
		&models.TrustedIP{},
		&models.Penalty{},
		&models.LimitOverride{},
		&models.AuditEvent{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := autoMigrate(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}
	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_audit_events_details_gin
		ON audit_events USING gin (details)
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create audit details index: %w", errIndex)
	}
	return nil
}

// migrateSQLite applies SQLite schema updates.
func migrateSQLite(conn *gorm.DB) error {
	if errPragma := conn.Exec(`PRAGMA journal_mode=WAL`).Error; errPragma != nil {
		return fmt.Errorf("db: enable wal: %w", errPragma)
	}
	return autoMigrate(conn)
}
