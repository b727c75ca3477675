package ratelimit

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type penaltyRecord struct {
	multiplier float64
	appliedAt  time.Time
	expiresAt  time.Time
}

// PenaltyManager holds temporary quota multipliers per logical key.
type PenaltyManager struct {
	mu        sync.RWMutex
	penalties map[string]penaltyRecord
}

// NewPenaltyManager constructs an empty PenaltyManager.
func NewPenaltyManager() *PenaltyManager {
	return &PenaltyManager{penalties: make(map[string]penaltyRecord)}
}

// Apply sets a penalty on key until now+duration, replacing any existing one.
func (p *PenaltyManager) Apply(key string, multiplier float64, duration time.Duration, now time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return invalid("key", "must not be empty")
	}
	if !validMultiplier(multiplier) {
		return invalid("multiplier", "must be at least 1.0")
	}
	if duration <= 0 {
		return invalid("duration", "must be positive")
	}
	return p.Restore(key, multiplier, now, now.Add(duration))
}

func validMultiplier(m float64) bool {
	return !math.IsNaN(m) && !math.IsInf(m, 0) && m >= 1
}

// Restore installs a penalty with explicit timestamps.
func (p *PenaltyManager) Restore(key string, multiplier float64, appliedAt, expiresAt time.Time) error {
	if !validMultiplier(multiplier) {
		return invalid("multiplier", "must be at least 1.0")
	}
	p.mu.Lock()
	p.penalties[key] = penaltyRecord{multiplier: multiplier, appliedAt: appliedAt, expiresAt: expiresAt}
	p.mu.Unlock()
	return nil
}

// Remove drops the penalty on key. Removing an absent penalty is not an error.
func (p *PenaltyManager) Remove(key string) bool {
	key = strings.TrimSpace(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.penalties[key]
	delete(p.penalties, key)
	return ok
}

// Active returns the unexpired penalty on key, evicting it when expired.
func (p *PenaltyManager) Active(key string, now time.Time) (PenaltyInfo, bool) {
	p.mu.RLock()
	rec, ok := p.penalties[key]
	p.mu.RUnlock()
	if !ok {
		return PenaltyInfo{}, false
	}
	if !now.Before(rec.expiresAt) {
		p.mu.Lock()
		if cur, still := p.penalties[key]; still && !now.Before(cur.expiresAt) {
			delete(p.penalties, key)
		}
		p.mu.Unlock()
		return PenaltyInfo{}, false
	}
	return PenaltyInfo{Key: key, Multiplier: rec.multiplier, AppliedAt: rec.appliedAt, ExpiresAt: rec.expiresAt}, true
}

// EffectiveConfig returns base scaled down by the active penalty on key, if any.
func (p *PenaltyManager) EffectiveConfig(key string, base Config, now time.Time) Config {
	info, ok := p.Active(key, now)
	if !ok {
		return base
	}
	return base.Scaled(info.Multiplier)
}

// Sweep removes expired penalties and returns how many were removed.
func (p *PenaltyManager) Sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for key, rec := range p.penalties {
		if !now.Before(rec.expiresAt) {
			delete(p.penalties, key)
			removed++
		}
	}
	return removed
}

// List returns the unexpired penalties ordered by key.
func (p *PenaltyManager) List(now time.Time) []PenaltyInfo {
	p.mu.RLock()
	out := make([]PenaltyInfo, 0, len(p.penalties))
	for key, rec := range p.penalties {
		if now.Before(rec.expiresAt) {
			out = append(out, PenaltyInfo{Key: key, Multiplier: rec.multiplier, AppliedAt: rec.appliedAt, ExpiresAt: rec.expiresAt})
		}
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
