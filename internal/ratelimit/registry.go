package ratelimit

import (
	"strings"
	"sync"
	"sync/atomic"
)

type registrySnapshot struct {
	services map[ServiceName]Config
	tiers    map[IPTier]Config
}

// Registry holds the service and IP tier limit tables.
// Readers never lock; writers publish a fresh snapshot.
type Registry struct {
	writeMu sync.Mutex
	current atomic.Value
}

// NewRegistry constructs a Registry seeded with the given tables, or the built-in ones when nil.
func NewRegistry(services map[ServiceName]Config, tiers map[IPTier]Config) *Registry {
	next := registrySnapshot{
		services: DefaultServiceLimits(),
		tiers:    DefaultIPTierLimits(),
	}
	for name, cfg := range services {
		name = normalizeService(name)
		if name == "" {
			continue
		}
		next.services[name] = cfg.Normalize()
	}
	for tier, cfg := range tiers {
		if !tier.Valid() {
			continue
		}
		next.tiers[tier] = cfg.Normalize()
	}
	r := &Registry{}
	r.current.Store(next)
	return r
}

func (r *Registry) load() registrySnapshot {
	return r.current.Load().(registrySnapshot)
}

// Service returns the limits for name, falling back to the default service.
func (r *Registry) Service(name ServiceName) (Config, bool) {
	snap := r.load()
	if cfg, ok := snap.services[normalizeService(name)]; ok {
		return cfg, true
	}
	return snap.services[ServiceDefault], false
}

// Tier returns the limits for an IP tier, falling back to the normal tier.
func (r *Registry) Tier(tier IPTier) Config {
	snap := r.load()
	if cfg, ok := snap.tiers[tier]; ok {
		return cfg
	}
	return snap.tiers[TierNormal]
}

// Services returns a copy of the service table.
func (r *Registry) Services() map[ServiceName]Config {
	snap := r.load()
	out := make(map[ServiceName]Config, len(snap.services))
	for k, v := range snap.services {
		out[k] = v
	}
	return out
}

// Tiers returns a copy of the IP tier table.
func (r *Registry) Tiers() map[IPTier]Config {
	snap := r.load()
	out := make(map[IPTier]Config, len(snap.tiers))
	for k, v := range snap.tiers {
		out[k] = v
	}
	return out
}

// SetService validates and publishes limits for a service.
func (r *Registry) SetService(name ServiceName, cfg Config) error {
	name = normalizeService(name)
	if name == "" {
		return invalid("service", "must not be empty")
	}
	if errValidate := cfg.Validate(); errValidate != nil {
		return errValidate
	}
	r.update(func(next *registrySnapshot) {
		next.services[name] = cfg.Normalize()
	})
	return nil
}

// RemoveService drops a service override. The default service cannot be removed.
func (r *Registry) RemoveService(name ServiceName) (bool, error) {
	name = normalizeService(name)
	if name == ServiceDefault {
		return false, ErrDefaultService
	}
	removed := false
	r.update(func(next *registrySnapshot) {
		if _, ok := next.services[name]; ok {
			delete(next.services, name)
			removed = true
		}
	})
	return removed, nil
}

// SetTier validates and publishes limits for an IP tier.
func (r *Registry) SetTier(tier IPTier, cfg Config) error {
	if !tier.Valid() {
		return ErrUnknownTier
	}
	if errValidate := cfg.Validate(); errValidate != nil {
		return errValidate
	}
	r.update(func(next *registrySnapshot) {
		next.tiers[tier] = cfg.Normalize()
	})
	return nil
}

func (r *Registry) update(mutate func(next *registrySnapshot)) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	prev := r.load()
	next := registrySnapshot{
		services: make(map[ServiceName]Config, len(prev.services)+1),
		tiers:    make(map[IPTier]Config, len(prev.tiers)),
	}
	for k, v := range prev.services {
		next.services[k] = v
	}
	for k, v := range prev.tiers {
		next.tiers[k] = v
	}
	mutate(&next)
	r.current.Store(next)
}

func normalizeService(name ServiceName) ServiceName {
	return ServiceName(strings.ToLower(strings.TrimSpace(string(name))))
}
