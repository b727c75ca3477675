package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/ratelimitd/internal/config"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

const (
	// defaultPollInterval re-reads the file when filesystem events are missed.
	defaultPollInterval = 30 * time.Second
	// defaultDebounce coalesces bursts of write events.
	defaultDebounce = 100 * time.Millisecond
)

// LimitsApplier receives limit tables reloaded from the config file.
type LimitsApplier interface {
	ConfigureServiceLimits(service ratelimit.ServiceName, cfg ratelimit.Config) error
	ConfigureIPTierLimits(tier ratelimit.IPTier, cfg ratelimit.Config) error
}

// ConfigWatcher reapplies the limits section of the config file when it changes.
type ConfigWatcher struct {
	path         string
	applier      LimitsApplier
	pollInterval time.Duration
	debounce     time.Duration

	mu   sync.Mutex
	hash string
}

// NewConfigWatcher constructs a ConfigWatcher for path.
func NewConfigWatcher(path string, applier LimitsApplier) *ConfigWatcher {
	return &ConfigWatcher{
		path:         config.ResolveConfigPath(path),
		applier:      applier,
		pollInterval: defaultPollInterval,
		debounce:     defaultDebounce,
	}
}

// SetPollInterval overrides the fallback poll interval.
func (w *ConfigWatcher) SetPollInterval(d time.Duration) {
	if w != nil && d > 0 {
		w.pollInterval = d
	}
}

// Run watches the config file until ctx is canceled.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	if w == nil || w.applier == nil {
		return nil
	}
	if _, errReload := w.Reload(); errReload != nil {
		log.WithError(errReload).Warn("config watcher: initial load failed")
	}

	fsw, errWatcher := fsnotify.NewWatcher()
	if errWatcher != nil {
		return fmt.Errorf("config watcher: create watcher: %w", errWatcher)
	}
	defer func() {
		if errClose := fsw.Close(); errClose != nil {
			log.WithError(errClose).Debug("config watcher: close failed")
		}
	}()
	// Directory watch survives editors that replace the file.
	if errAdd := fsw.Add(filepath.Dir(w.path)); errAdd != nil {
		log.WithError(errAdd).Warn("config watcher: watch directory failed, polling only")
	}
	base := filepath.Base(w.path)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	var debounce <-chan time.Time

	log.Infof("config watcher started (path=%s poll_interval=%s)", w.path, w.pollInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(w.debounce)
			}
		case errEvent, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.WithError(errEvent).Warn("config watcher: fsnotify error")
		case <-debounce:
			debounce = nil
			w.reloadAndLog()
		case <-ticker.C:
			w.reloadAndLog()
		}
	}
}

func (w *ConfigWatcher) reloadAndLog() {
	changed, errReload := w.Reload()
	if errReload != nil {
		log.WithError(errReload).Warn("config watcher: reload failed")
		return
	}
	if changed {
		log.Info("config watcher: limits reloaded")
	}
}

// Prime records the current file contents as already applied, so only later edits are reloaded.
func (w *ConfigWatcher) Prime() error {
	hash, errHash := w.fileHash()
	if errHash != nil {
		return errHash
	}
	w.mu.Lock()
	w.hash = hash
	w.mu.Unlock()
	return nil
}

func (w *ConfigWatcher) fileHash() (string, error) {
	data, errRead := os.ReadFile(w.path)
	if errRead != nil {
		if errors.Is(errRead, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config watcher: read: %w", errRead)
	}
	if len(data) == 0 {
		return "", nil
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Reload applies the limits section when the file contents changed since the last reload.
func (w *ConfigWatcher) Reload() (bool, error) {
	hash, errHash := w.fileHash()
	if errHash != nil || hash == "" {
		return false, errHash
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hash == hash {
		return false, nil
	}

	limits, errLoad := config.LoadLimits(w.path)
	if errLoad != nil {
		return false, errLoad
	}
	if errApply := apply(w.applier, limits); errApply != nil {
		return false, errApply
	}
	w.hash = hash
	return true, nil
}

// apply pushes every configured table entry, in name order so failures are reproducible.
func apply(applier LimitsApplier, limits config.LimitsConfig) error {
	services := make([]string, 0, len(limits.Services))
	for name := range limits.Services {
		services = append(services, string(name))
	}
	sort.Strings(services)
	for _, name := range services {
		cfg := limits.Services[ratelimit.ServiceName(name)]
		if errSet := applier.ConfigureServiceLimits(ratelimit.ServiceName(strings.ToLower(name)), cfg); errSet != nil {
			return fmt.Errorf("config watcher: service %s: %w", name, errSet)
		}
	}
	tiers := make([]string, 0, len(limits.IPTiers))
	for tier := range limits.IPTiers {
		tiers = append(tiers, string(tier))
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		if errSet := applier.ConfigureIPTierLimits(ratelimit.IPTier(tier), limits.IPTiers[ratelimit.IPTier(tier)]); errSet != nil {
			return fmt.Errorf("config watcher: tier %s: %w", tier, errSet)
		}
	}
	return nil
}
