package app

import (
	"context"
	"fmt"

	"github.com/router-for-me/ratelimitd/internal/models"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/store"
	log "github.com/sirupsen/logrus"
)

// RestoreSummary counts what RestoreState loaded.
type RestoreSummary struct {
	Blocks    int
	Penalties int
	Trusted   int
	Overrides int
}

// RestoreState loads persisted administrative state into the limiter.
func RestoreState(ctx context.Context, state *store.StateStore, limiter *ratelimit.Limiter) (RestoreSummary, error) {
	var summary RestoreSummary
	if state == nil || limiter == nil {
		return summary, nil
	}
	now := limiter.Now()

	overrides, errOverrides := state.LimitOverrides(ctx)
	if errOverrides != nil {
		return summary, errOverrides
	}
	for _, override := range overrides {
		var errApply error
		switch override.Scope {
		case models.LimitScopeService:
			errApply = limiter.ConfigureServiceLimits(ratelimit.ServiceName(override.Name), override.Config)
		case models.LimitScopeIPTier:
			errApply = limiter.ConfigureIPTierLimits(ratelimit.IPTier(override.Name), override.Config)
		default:
			errApply = fmt.Errorf("unknown scope %q", override.Scope)
		}
		if errApply != nil {
			log.WithError(errApply).WithFields(log.Fields{"scope": override.Scope, "name": override.Name}).Warn("restore: skip limit override")
			continue
		}
		summary.Overrides++
	}

	blocks, errBlocks := state.ActiveBlocks(ctx, now)
	if errBlocks != nil {
		return summary, errBlocks
	}
	for _, rec := range blocks {
		if limiter.RestoreBlock(rec) {
			summary.Blocks++
		}
	}

	penalties, errPenalties := state.ActivePenalties(ctx, now)
	if errPenalties != nil {
		return summary, errPenalties
	}
	for _, info := range penalties {
		if limiter.RestorePenalty(info) {
			summary.Penalties++
		}
	}

	trusted, errTrusted := state.TrustedIPs(ctx)
	if errTrusted != nil {
		return summary, errTrusted
	}
	for _, ip := range trusted {
		if errTrust := limiter.TrustIP(ip); errTrust != nil {
			log.WithError(errTrust).WithField("ip", ip).Warn("restore: skip trusted ip")
			continue
		}
		summary.Trusted++
	}
	return summary, nil
}
