package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
)

const (
	lockStripes      = 256
	defaultRetention = time.Hour
)

// AnomalyThresholds configures DetectAnomalies.
type AnomalyThresholds struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BlocksPerHour     int `json:"blocks_per_hour" yaml:"blocks_per_hour"`
}

// DefaultAnomalyThresholds returns the built-in thresholds.
func DefaultAnomalyThresholds() AnomalyThresholds {
	return AnomalyThresholds{RequestsPerMinute: 100, BlocksPerHour: 10}
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.nowFn = clock
		}
	}
}

// WithRegistry supplies the limit tables.
func WithRegistry(registry *Registry) Option {
	return func(l *Limiter) {
		if registry != nil {
			l.registry = registry
		}
	}
}

// WithMetrics enables Prometheus collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = metrics
	}
}

// WithAnomalyThresholds overrides the anomaly thresholds. Non-positive values keep the defaults.
func WithAnomalyThresholds(t AnomalyThresholds) Option {
	return func(l *Limiter) {
		if t.RequestsPerMinute > 0 {
			l.thresholds.RequestsPerMinute = t.RequestsPerMinute
		}
		if t.BlocksPerHour > 0 {
			l.thresholds.BlocksPerHour = t.BlocksPerHour
		}
	}
}

// WithRetention sets how long idle keys and in-memory counters are kept.
func WithRetention(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.retention = d
		}
	}
}

// Limiter is the admission controller. It owns every piece of limiter state.
type Limiter struct {
	store      CounterStore
	evaluator  *WindowEvaluator
	penalties  *PenaltyManager
	guard      *IPGuard
	registry   *Registry
	nowFn      Clock
	metrics    *Metrics
	thresholds AnomalyThresholds
	retention  time.Duration

	locks [lockStripes]sync.Mutex

	activityMu sync.Mutex
	activity   map[string]time.Time
}

// NewLimiter constructs a Limiter over store. A nil store keeps counters in memory.
func NewLimiter(store CounterStore, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{
		store:      store,
		evaluator:  NewWindowEvaluator(store),
		penalties:  NewPenaltyManager(),
		guard:      NewIPGuard(),
		nowFn:      time.Now,
		thresholds: DefaultAnomalyThresholds(),
		retention:  defaultRetention,
		activity:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.registry == nil {
		l.registry = NewRegistry(nil, nil)
	}
	if failover, ok := store.(*FailoverStore); ok && l.metrics != nil {
		failover.OnFailover(l.metrics.observeFailover)
	}
	l.syncCapacity()
	return l
}

// Now returns the limiter's current time.
func (l *Limiter) Now() time.Time {
	return l.nowFn()
}

// Check decides whether a request is admitted and records it when it is.
func (l *Limiter) Check(ctx context.Context, req Request) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	now := l.nowFn()
	key := KeyForRequest(req)
	service := normalizeService(req.Service)
	if service == "" {
		service = ServiceDefault
	}
	ip := strings.TrimSpace(req.IP)
	base, known := l.registry.Service(service)
	if !known {
		service = ServiceDefault
	}

	res := l.check(ctx, key, base, ip, now)
	l.metrics.observeDecision(service, res)
	if !res.Allowed {
		log.WithFields(log.Fields{
			"key":     key,
			"service": service,
			"ip":      ip,
			"user_id": req.UserID,
			"gate":    res.Gate,
		}).Debug("rate limit: request rejected")
	}
	return res
}

func (l *Limiter) check(ctx context.Context, key string, base Config, ip string, now time.Time) Result {
	if ip != "" {
		if rec, blocked := l.guard.IsBlocked(ip, now); blocked {
			retry := rec.UnblockAt.Sub(now)
			return Result{
				Allowed:    false,
				ResetTime:  rec.UnblockAt,
				RetryAfter: &retry,
				Gate:       GateIPBlock,
				Reason:     strings.TrimSpace("ip blocked " + rec.Reason),
			}
		}
	}

	cfg := l.penalties.EffectiveConfig(key, base, now)

	ipKey := ""
	if ip != "" {
		ipKey = IPKey(canonicalIP(ip))
	}
	unlock := l.lockKeys(key, ipKey)
	defer unlock()

	var admitted Result
	for _, w := range Windows {
		res := l.evaluator.Evaluate(ctx, CounterKey{Logical: key, Window: w}, cfg.Span(w), cfg.Limit(w), now)
		if !res.Allowed {
			res.Gate = Gate(w)
			res.Reason = fmt.Sprintf("%s limit exceeded", w)
			return res
		}
		if w == WindowMinute {
			admitted = res
		}
	}

	if ipKey != "" {
		tier := l.guard.Categorize(ip, now)
		tierCfg := l.penalties.EffectiveConfig(ipKey, l.registry.Tier(tier), now)
		res := l.evaluator.Evaluate(ctx, CounterKey{Logical: ipKey, Window: WindowMinute}, tierCfg.Span(WindowMinute), tierCfg.RequestsPerMinute, now)
		if !res.Allowed {
			res.Gate = GateIP
			res.Reason = fmt.Sprintf("%s ip limit exceeded", tier)
			return res
		}
	}

	for _, w := range Windows {
		l.record(ctx, CounterKey{Logical: key, Window: w}, now)
	}
	l.touch(key, now)
	if ipKey != "" {
		l.record(ctx, CounterKey{Logical: ipKey, Window: WindowMinute}, now)
		l.touch(ipKey, now)
	}
	return admitted
}

func (l *Limiter) record(ctx context.Context, key CounterKey, now time.Time) {
	if errRecord := l.store.Record(ctx, key, now); errRecord != nil {
		log.WithError(errRecord).WithField("key", key.String()).Warn("rate limit: record failed")
	}
}

// Status reports limits and usage of key without recording anything.
func (l *Limiter) Status(ctx context.Context, key string, service ServiceName) (Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Status{}, invalid("key", "must not be empty")
	}
	service = normalizeService(service)
	if service == "" {
		service = ServiceDefault
	}
	now := l.nowFn()
	base, known := l.registry.Service(service)
	if !known {
		service = ServiceDefault
	}
	cfg := l.penalties.EffectiveConfig(key, base, now)
	status := Status{
		Key:         key,
		Service:     service,
		Limits:      cfg,
		BaseLimits:  base,
		Usage:       make(map[Window]WindowUsage, len(Windows)),
		GeneratedAt: now,
	}
	for _, w := range Windows {
		status.Usage[w] = l.evaluator.Peek(ctx, CounterKey{Logical: key, Window: w}, cfg.Span(w), cfg.Limit(w), now)
	}
	if info, ok := l.penalties.Active(key, now); ok {
		status.Penalty = &info
	}
	return status, nil
}

func (l *Limiter) touch(key string, now time.Time) {
	l.activityMu.Lock()
	l.activity[key] = now
	l.activityMu.Unlock()
}

func (l *Limiter) activeKeys(now time.Time) []string {
	cutoff := now.Add(-l.retention)
	l.activityMu.Lock()
	keys := make([]string, 0, len(l.activity))
	for key, seen := range l.activity {
		if !seen.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	l.activityMu.Unlock()
	sort.Strings(keys)
	return keys
}

// lockKeys locks the stripes of the given keys in index order and returns the unlock func.
func (l *Limiter) lockKeys(keys ...string) func() {
	idx := make([]int, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		i := int(xxhash.Sum64String(key) % lockStripes)
		dup := false
		for _, seen := range idx {
			if seen == i {
				dup = true
				break
			}
		}
		if !dup {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		l.locks[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l.locks[idx[j]].Unlock()
		}
	}
}

func (l *Limiter) syncCapacity() {
	adjuster, ok := l.store.(CapacityAdjuster)
	if !ok {
		return
	}
	for _, cfg := range l.registry.Services() {
		for _, w := range Windows {
			adjuster.EnsureCapacity(w, cfg.Limit(w))
		}
	}
	for _, cfg := range l.registry.Tiers() {
		adjuster.EnsureCapacity(WindowMinute, cfg.RequestsPerMinute)
	}
}
