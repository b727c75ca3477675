package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultBreakerDuration is how long the primary store is bypassed after a failure.
const DefaultBreakerDuration = 30 * time.Second

// FailoverStore serves counters from a primary store and falls back to memory on any primary error.
type FailoverStore struct {
	primary  CounterStore
	fallback *MemoryStore
	nowFn    func() time.Time
	breaker  time.Duration

	mu           sync.Mutex
	breakerUntil time.Time
	failovers    atomic.Uint64
	onFailover   func()
}

// NewFailoverStore constructs a FailoverStore. A nil primary serves everything from memory.
func NewFailoverStore(primary CounterStore, fallback *MemoryStore, nowFn func() time.Time, breaker time.Duration) *FailoverStore {
	if fallback == nil {
		fallback = NewMemoryStore()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if breaker < 0 {
		breaker = 0
	}
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		nowFn:    nowFn,
		breaker:  breaker,
	}
}

// OnFailover registers a hook invoked each time an operation is rerouted after a primary error.
func (s *FailoverStore) OnFailover(fn func()) {
	s.mu.Lock()
	s.onFailover = fn
	s.mu.Unlock()
}

// Count implements CounterStore.
func (s *FailoverStore) Count(ctx context.Context, key CounterKey, span time.Duration, now time.Time) (int, error) {
	if s.usePrimary() {
		n, errCount := s.primary.Count(ctx, key, span, now)
		if errCount == nil {
			return n, nil
		}
		s.trip(errCount)
	}
	return s.fallback.Count(ctx, key, span, now)
}

// Peek implements CounterStore.
func (s *FailoverStore) Peek(ctx context.Context, key CounterKey, span time.Duration, now time.Time) (int, error) {
	if s.usePrimary() {
		n, errPeek := s.primary.Peek(ctx, key, span, now)
		if errPeek == nil {
			return n, nil
		}
		s.trip(errPeek)
	}
	return s.fallback.Peek(ctx, key, span, now)
}

// Record implements CounterStore.
func (s *FailoverStore) Record(ctx context.Context, key CounterKey, now time.Time) error {
	if s.usePrimary() {
		errRecord := s.primary.Record(ctx, key, now)
		if errRecord == nil {
			return nil
		}
		s.trip(errRecord)
	}
	return s.fallback.Record(ctx, key, now)
}

// Purge implements CounterStore.
func (s *FailoverStore) Purge(ctx context.Context, key CounterKey, now time.Time) error {
	if s.usePrimary() {
		errPurge := s.primary.Purge(ctx, key, now)
		if errPurge == nil {
			return nil
		}
		s.trip(errPurge)
	}
	return s.fallback.Purge(ctx, key, now)
}

// Clear drops the key from both stores.
func (s *FailoverStore) Clear(ctx context.Context, logical string) error {
	if s.usePrimary() {
		if errClear := s.primary.Clear(ctx, logical); errClear != nil {
			s.trip(errClear)
		}
	}
	return s.fallback.Clear(ctx, logical)
}

// PruneIdle prunes the in-memory fallback.
func (s *FailoverStore) PruneIdle(now time.Time, horizon time.Duration) int {
	return s.fallback.PruneIdle(now, horizon)
}

// EnsureCapacity adjusts the in-memory fallback.
func (s *FailoverStore) EnsureCapacity(w Window, limit int) {
	s.fallback.EnsureCapacity(w, limit)
}

// Degraded reports whether the primary store is currently bypassed.
func (s *FailoverStore) Degraded() bool {
	if s.primary == nil {
		return false
	}
	return !s.usePrimary()
}

// Failovers returns how many operations were rerouted to the fallback after a primary error.
func (s *FailoverStore) Failovers() uint64 {
	return s.failovers.Load()
}

// Backend names the store currently serving.
func (s *FailoverStore) Backend() string {
	if s.primary == nil {
		return "memory"
	}
	if s.Degraded() {
		return "memory (failover)"
	}
	if named, ok := s.primary.(BackendReporter); ok {
		return named.Backend()
	}
	return "primary"
}

func (s *FailoverStore) usePrimary() bool {
	if s.primary == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.breakerUntil.IsZero() {
		return true
	}
	if s.nowFn().Before(s.breakerUntil) {
		return false
	}
	s.breakerUntil = time.Time{}
	log.Info("rate limit: retrying primary counter store")
	return true
}

func (s *FailoverStore) trip(err error) {
	s.failovers.Add(1)
	s.mu.Lock()
	hook := s.onFailover
	now := s.nowFn()
	alreadyOpen := !s.breakerUntil.IsZero() && now.Before(s.breakerUntil)
	if !alreadyOpen && s.breaker > 0 {
		s.breakerUntil = now.Add(s.breaker)
	}
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	switch {
	case alreadyOpen:
	case s.breaker > 0:
		log.WithError(err).Warn("rate limit: counter store unavailable, falling back to memory")
	default:
		log.WithError(err).Debug("rate limit: counter store error, served from memory")
	}
}
