package ratelimit

import (
	"context"
	"strings"
	"time"
)

// BlockIP blocks ip for duration.
func (l *Limiter) BlockIP(ip string, duration time.Duration, reason string) error {
	if errBlock := l.guard.Block(ip, duration, reason, l.nowFn()); errBlock != nil {
		return errBlock
	}
	l.refreshGauges()
	return nil
}

// WhitelistIP removes any block on ip and reports whether one existed.
func (l *Limiter) WhitelistIP(ip string) (bool, error) {
	if _, errIP := NormalizeIP(ip); errIP != nil {
		return false, errIP
	}
	removed := l.guard.Whitelist(ip)
	l.refreshGauges()
	return removed, nil
}

// TrustIP places ip in the trusted tier.
func (l *Limiter) TrustIP(ip string) error {
	return l.guard.Trust(ip)
}

// UntrustIP removes ip from the trusted tier.
func (l *Limiter) UntrustIP(ip string) bool {
	return l.guard.Untrust(ip)
}

// CategorizeIP returns the current tier of ip.
func (l *Limiter) CategorizeIP(ip string) (IPTier, error) {
	if _, errIP := NormalizeIP(ip); errIP != nil {
		return "", errIP
	}
	return l.guard.Categorize(ip, l.nowFn()), nil
}

// LookupBlock returns the active block on ip.
func (l *Limiter) LookupBlock(ip string) (BlockRecord, bool) {
	return l.guard.IsBlocked(ip, l.nowFn())
}

// TrustedIPs lists trusted addresses.
func (l *Limiter) TrustedIPs() []string {
	return l.guard.Trusted()
}

// BlockedIPs lists active blocks.
func (l *Limiter) BlockedIPs() []BlockedIP {
	return l.guard.List(l.nowFn())
}

// RestoreBlock installs a previously persisted block. Expired records are ignored.
func (l *Limiter) RestoreBlock(rec BlockRecord) bool {
	normalized, errIP := NormalizeIP(rec.IP)
	if errIP != nil || !l.nowFn().Before(rec.UnblockAt) {
		return false
	}
	rec.IP = normalized
	l.guard.Restore(rec)
	return true
}

// ApplyPenalty scales down the quotas of key by multiplier for duration.
func (l *Limiter) ApplyPenalty(key string, multiplier float64, duration time.Duration) error {
	if errApply := l.penalties.Apply(key, multiplier, duration, l.nowFn()); errApply != nil {
		return errApply
	}
	l.refreshGauges()
	return nil
}

// RemovePenalty drops the penalty on key.
func (l *Limiter) RemovePenalty(key string) bool {
	removed := l.penalties.Remove(key)
	l.refreshGauges()
	return removed
}

// LookupPenalty returns the active penalty on key.
func (l *Limiter) LookupPenalty(key string) (PenaltyInfo, bool) {
	return l.penalties.Active(strings.TrimSpace(key), l.nowFn())
}

// Penalties lists active penalties.
func (l *Limiter) Penalties() []PenaltyInfo {
	return l.penalties.List(l.nowFn())
}

// RestorePenalty installs a previously persisted penalty. Expired records are ignored.
func (l *Limiter) RestorePenalty(info PenaltyInfo) bool {
	key := strings.TrimSpace(info.Key)
	if key == "" || !l.nowFn().Before(info.ExpiresAt) {
		return false
	}
	return l.penalties.Restore(key, info.Multiplier, info.AppliedAt, info.ExpiresAt) == nil
}

// ConfigureServiceLimits replaces the limits of a service.
func (l *Limiter) ConfigureServiceLimits(service ServiceName, cfg Config) error {
	if errSet := l.registry.SetService(service, cfg); errSet != nil {
		return errSet
	}
	l.syncCapacity()
	return nil
}

// RemoveServiceLimits drops a service so it falls back to the default limits.
func (l *Limiter) RemoveServiceLimits(service ServiceName) (bool, error) {
	return l.registry.RemoveService(service)
}

// ConfigureIPTierLimits replaces the limits of an IP tier.
func (l *Limiter) ConfigureIPTierLimits(tier IPTier, cfg Config) error {
	if errSet := l.registry.SetTier(tier, cfg); errSet != nil {
		return errSet
	}
	l.syncCapacity()
	return nil
}

// ServiceLimits returns the service table.
func (l *Limiter) ServiceLimits() map[ServiceName]Config {
	return l.registry.Services()
}

// IPTierLimits returns the IP tier table.
func (l *Limiter) IPTierLimits() map[IPTier]Config {
	return l.registry.Tiers()
}

// Clear resets every counter of key.
func (l *Limiter) Clear(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return invalid("key", "must not be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	unlock := l.lockKeys(key)
	defer unlock()
	if errClear := l.store.Clear(ctx, key); errClear != nil {
		return errClear
	}
	l.activityMu.Lock()
	delete(l.activity, key)
	l.activityMu.Unlock()
	return nil
}

// GlobalStats summarizes the limiter state.
func (l *Limiter) GlobalStats() GlobalStats {
	now := l.nowFn()
	stats := GlobalStats{
		ActiveKeys:      len(l.activeKeys(now)),
		BlockedIPs:      len(l.guard.List(now)),
		TrustedIPs:      l.guard.TrustedCount(),
		ActivePenalties: len(l.penalties.List(now)),
		Services:        len(l.registry.Services()),
		Backend:         "custom",
		GeneratedAt:     now,
	}
	if named, ok := l.store.(BackendReporter); ok {
		stats.Backend = named.Backend()
	}
	if failover, ok := l.store.(*FailoverStore); ok {
		stats.Failovers = failover.Failovers()
	}
	return stats
}

func (l *Limiter) refreshGauges() {
	if l.metrics == nil {
		return
	}
	now := l.nowFn()
	l.metrics.setState(len(l.guard.List(now)), len(l.penalties.List(now)))
}
