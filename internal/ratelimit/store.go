package ratelimit

import (
	"context"
	"time"
)

// CounterStore records request timestamps per counter key.
type CounterStore interface {
	// Count purges expired entries and returns the entries within [now-span, now].
	Count(ctx context.Context, key CounterKey, span time.Duration, now time.Time) (int, error)
	// Peek returns the entries within [now-span, now] without modifying the counter.
	Peek(ctx context.Context, key CounterKey, span time.Duration, now time.Time) (int, error)
	// Record adds one entry at now.
	Record(ctx context.Context, key CounterKey, now time.Time) error
	// Purge drops entries older than the window's retention.
	Purge(ctx context.Context, key CounterKey, now time.Time) error
	// Clear drops every window of a logical key.
	Clear(ctx context.Context, logical string) error
}

// IdlePruner is implemented by stores that hold counters in process memory.
type IdlePruner interface {
	PruneIdle(now time.Time, horizon time.Duration) int
}

// CapacityAdjuster is implemented by stores that cap retained entries per window.
type CapacityAdjuster interface {
	EnsureCapacity(w Window, limit int)
}

// BackendReporter is implemented by stores that can name the backend currently serving.
type BackendReporter interface {
	Backend() string
}
