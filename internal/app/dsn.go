package app

import (
	"net/url"
	"strings"

	"github.com/router-for-me/ratelimitd/internal/config"
)

// defaultSQLitePath is used when the config names no database.
const defaultSQLitePath = "ratelimitd.db"

// ResolveDSN returns the configured DSN, falling back to a local SQLite file.
func ResolveDSN(cfg *config.File) string {
	if cfg != nil {
		if dsn, errDSN := cfg.DSN(); errDSN == nil {
			return dsn
		}
	}
	return buildSQLiteDSN(defaultSQLitePath)
}

// buildSQLiteDSN constructs a SQLite DSN with default parameters.
func buildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join([]string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
		"_foreign_keys=on",
		"_synchronous=NORMAL",
	}, "&")
}

// describeDSN returns a log-safe summary of a DSN.
func describeDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(trimmed), "file:") {
		pathPart, _, _ := strings.Cut(trimmed[len("file:"):], "?")
		return "sqlite " + strings.TrimSpace(pathPart)
	}
	u, errParse := url.Parse(trimmed)
	if errParse != nil || u.Host == "" {
		return "postgres"
	}
	return "postgres " + u.Host + u.Path
}
