package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// WindowEvaluator turns counter store counts into decisions.
type WindowEvaluator struct {
	store CounterStore
}

// NewWindowEvaluator constructs a WindowEvaluator over store.
func NewWindowEvaluator(store CounterStore) *WindowEvaluator {
	return &WindowEvaluator{store: store}
}

// Evaluate checks whether one more request fits within limit over span ending at now.
// A store error counts as zero so the decision stays available.
func (e *WindowEvaluator) Evaluate(ctx context.Context, key CounterKey, span time.Duration, limit int, now time.Time) Result {
	count, errCount := e.store.Count(ctx, key, span, now)
	if errCount != nil {
		log.WithError(errCount).WithField("key", key.String()).Warn("rate limit: count failed, treating as empty")
		count = 0
	}
	return windowResult(count, span, limit, now)
}

// Peek reports usage without modifying the counter.
func (e *WindowEvaluator) Peek(ctx context.Context, key CounterKey, span time.Duration, limit int, now time.Time) WindowUsage {
	count, errPeek := e.store.Peek(ctx, key, span, now)
	if errPeek != nil {
		count = 0
	}
	return WindowUsage{
		Limit:     limit,
		Used:      count,
		Remaining: max(0, limit-count),
		ResetTime: now.Add(span),
	}
}

func windowResult(count int, span time.Duration, limit int, now time.Time) Result {
	res := Result{
		Allowed:   count < limit,
		Remaining: max(0, limit-count),
		Limit:     limit,
		ResetTime: now.Add(span),
	}
	if !res.Allowed {
		retry := span
		res.RetryAfter = &retry
	}
	return res
}
