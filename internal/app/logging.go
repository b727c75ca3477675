package app

import (
	"fmt"
	"strings"

	"github.com/router-for-me/ratelimitd/internal/config"
	log "github.com/sirupsen/logrus"
)

// ConfigureLogging applies the logging section to the global logrus logger.
func ConfigureLogging(cfg config.LoggingConfig) error {
	level, errLevel := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if errLevel != nil {
		return fmt.Errorf("logging: %w", errLevel)
	}
	log.SetLevel(level)
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}
	return nil
}
