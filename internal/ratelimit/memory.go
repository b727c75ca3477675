package ratelimit

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

var defaultMemoryCaps = map[Window]int{
	WindowMinute: 100,
	WindowHour:   1000,
	WindowDay:    10000,
	WindowBurst:  50,
}

type memoryCounter struct {
	mu      sync.Mutex
	stamps  []time.Time
	removed bool // set under mu once PruneIdle unlinks the counter
}

func (c *memoryCounter) purgeLocked(cutoff time.Time) {
	drop := 0
	for drop < len(c.stamps) && c.stamps[drop].Before(cutoff) {
		drop++
	}
	if drop > 0 {
		c.stamps = slices.Delete(c.stamps, 0, drop)
	}
}

func (c *memoryCounter) countLocked(from, to time.Time) int {
	lo := sort.Search(len(c.stamps), func(i int) bool { return !c.stamps[i].Before(from) })
	hi := sort.Search(len(c.stamps), func(i int) bool { return c.stamps[i].After(to) })
	if hi < lo {
		return 0
	}
	return hi - lo
}

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	counters map[CounterKey]*memoryCounter

	capsMu sync.RWMutex
	caps   map[Window]int
}

// NewMemoryStore constructs a MemoryStore with the default per-window caps.
func NewMemoryStore() *MemoryStore {
	caps := make(map[Window]int, len(defaultMemoryCaps))
	for w, n := range defaultMemoryCaps {
		caps[w] = n
	}
	return &MemoryStore{
		counters: make(map[CounterKey]*memoryCounter),
		caps:     caps,
	}
}

func (s *MemoryStore) counter(key CounterKey, create bool) *memoryCounter {
	s.mu.RLock()
	c := s.counters[key]
	s.mu.RUnlock()
	if c != nil || !create {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c = s.counters[key]; c == nil {
		c = &memoryCounter{}
		s.counters[key] = c
	}
	return c
}

// Count purges expired entries and returns the entries within [now-span, now].
func (s *MemoryStore) Count(_ context.Context, key CounterKey, span time.Duration, now time.Time) (int, error) {
	c := s.counter(key, false)
	if c == nil {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(now.Add(-key.Window.Duration()))
	return c.countLocked(now.Add(-span), now), nil
}

// Peek returns the entries within [now-span, now] without purging.
func (s *MemoryStore) Peek(_ context.Context, key CounterKey, span time.Duration, now time.Time) (int, error) {
	c := s.counter(key, false)
	if c == nil {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countLocked(now.Add(-span), now), nil
}

// Record adds one entry at now, evicting the oldest fifth when the window cap is exceeded.
func (s *MemoryStore) Record(_ context.Context, key CounterKey, now time.Time) error {
	limit := s.capacity(key.Window)
	c := s.counter(key, true)
	c.mu.Lock()
	for c.removed {
		c.mu.Unlock()
		c = s.counter(key, true)
		c.mu.Lock()
	}
	defer c.mu.Unlock()
	c.purgeLocked(now.Add(-key.Window.Duration()))
	idx := sort.Search(len(c.stamps), func(i int) bool { return c.stamps[i].After(now) })
	c.stamps = slices.Insert(c.stamps, idx, now)
	if limit > 0 && len(c.stamps) > limit {
		drop := len(c.stamps) / 5
		if drop < 1 {
			drop = 1
		}
		c.stamps = slices.Delete(c.stamps, 0, drop)
	}
	return nil
}

// Purge drops entries older than the window's retention.
func (s *MemoryStore) Purge(_ context.Context, key CounterKey, now time.Time) error {
	c := s.counter(key, false)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	c.purgeLocked(now.Add(-key.Window.Duration()))
	c.mu.Unlock()
	return nil
}

// Clear drops every window of a logical key.
func (s *MemoryStore) Clear(_ context.Context, logical string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range Windows {
		delete(s.counters, CounterKey{Logical: logical, Window: w})
	}
	return nil
}

// PruneIdle removes counters with no entry newer than now-horizon and returns how many were removed.
func (s *MemoryStore) PruneIdle(now time.Time, horizon time.Duration) int {
	idleCutoff := now.Add(-horizon)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, c := range s.counters {
		c.mu.Lock()
		c.purgeLocked(now.Add(-key.Window.Duration()))
		idle := len(c.stamps) == 0 || c.stamps[len(c.stamps)-1].Before(idleCutoff)
		if idle {
			c.removed = true
		}
		c.mu.Unlock()
		if idle {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// EnsureCapacity raises the retained-entry cap of a window so that limit entries always fit.
func (s *MemoryStore) EnsureCapacity(w Window, limit int) {
	if !w.Valid() || limit <= 0 {
		return
	}
	want := limit + limit/4 + 1
	s.capsMu.Lock()
	if s.caps[w] < want {
		s.caps[w] = want
	}
	s.capsMu.Unlock()
}

func (s *MemoryStore) capacity(w Window) int {
	s.capsMu.RLock()
	defer s.capsMu.RUnlock()
	return s.caps[w]
}

// Len returns the number of tracked counters.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counters)
}

// Backend names the store.
func (s *MemoryStore) Backend() string {
	return "memory"
}
