package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultSweepInterval = time.Minute

// Sweeper runs periodic cleanup and anomaly detection on a Limiter.
type Sweeper struct {
	limiter  *Limiter
	interval time.Duration
	after    func(ctx context.Context, report CleanupReport)
}

// NewSweeper constructs a Sweeper. after, when non-nil, runs after every cleanup pass.
func NewSweeper(limiter *Limiter, interval time.Duration, after func(ctx context.Context, report CleanupReport)) *Sweeper {
	if limiter == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{limiter: limiter, interval: interval, after: after}
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log.Infof("rate limit sweeper started (interval=%s)", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single cleanup pass followed by anomaly detection.
func (s *Sweeper) SweepOnce(ctx context.Context) CleanupReport {
	report := s.limiter.Cleanup(ctx)
	if s.after != nil {
		s.after(ctx, report)
	}
	for _, anomaly := range s.limiter.DetectAnomalies(ctx) {
		log.WithFields(log.Fields{
			"type":      anomaly.Type,
			"subject":   anomaly.Subject,
			"severity":  anomaly.Severity,
			"value":     anomaly.Value,
			"threshold": anomaly.Threshold,
		}).Warn("rate limit: anomaly detected")
	}
	return report
}
