package ratelimit

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Cleanup evicts expired blocks and penalties, prunes idle in-memory counters and forgets idle keys.
func (l *Limiter) Cleanup(_ context.Context) CleanupReport {
	now := l.nowFn()
	report := CleanupReport{RanAt: now}
	report.ExpiredBlocks = l.guard.Sweep(now, time.Hour)
	report.ExpiredPenalties = l.penalties.Sweep(now)
	if pruner, ok := l.store.(IdlePruner); ok {
		report.PrunedCounters = pruner.PruneIdle(now, l.retention)
	}

	cutoff := now.Add(-l.retention)
	l.activityMu.Lock()
	for key, seen := range l.activity {
		if seen.Before(cutoff) {
			delete(l.activity, key)
			report.ForgottenKeys++
		}
	}
	l.activityMu.Unlock()

	l.refreshGauges()
	if (report.ExpiredBlocks+report.ExpiredPenalties+report.PrunedCounters+report.ForgottenKeys) > 0 {
		log.WithFields(log.Fields{
			"expired_blocks":    report.ExpiredBlocks,
			"expired_penalties": report.ExpiredPenalties,
			"pruned_counters":   report.PrunedCounters,
			"forgotten_keys":    report.ForgottenKeys,
		}).Debug("rate limit: cleanup")
	}
	return report
}

// DetectAnomalies reports keys over the request-rate threshold, bursts of IP blocks and store failover.
func (l *Limiter) DetectAnomalies(ctx context.Context) []Anomaly {
	if ctx == nil {
		ctx = context.Background()
	}
	now := l.nowFn()
	found := make([]Anomaly, 0)

	limit := l.thresholds.RequestsPerMinute
	for _, key := range l.activeKeys(now) {
		if ctx.Err() != nil {
			break
		}
		count, errPeek := l.store.Peek(ctx, CounterKey{Logical: key, Window: WindowMinute}, time.Minute, now)
		if errPeek != nil || count <= limit {
			continue
		}
		severity := "warning"
		if count > 2*limit {
			severity = "critical"
		}
		found = append(found, Anomaly{
			Type:       AnomalyHighRequestRate,
			Subject:    key,
			Severity:   severity,
			Value:      count,
			Threshold:  limit,
			Message:    fmt.Sprintf("%d requests in the last minute", count),
			DetectedAt: now,
		})
	}

	if blocks := l.guard.BlocksSince(now.Add(-time.Hour)); blocks > l.thresholds.BlocksPerHour {
		found = append(found, Anomaly{
			Type:       AnomalyMultipleIPBlocks,
			Severity:   "warning",
			Value:      blocks,
			Threshold:  l.thresholds.BlocksPerHour,
			Message:    fmt.Sprintf("%d IP blocks in the last hour", blocks),
			DetectedAt: now,
		})
	}

	if failover, ok := l.store.(*FailoverStore); ok && failover.Degraded() {
		found = append(found, Anomaly{
			Type:       AnomalyStoreFailover,
			Severity:   "critical",
			Value:      int(failover.Failovers()),
			Message:    "counter store unavailable, serving from memory",
			DetectedAt: now,
		})
	}

	l.metrics.observeAnomalies(found)
	return found
}
