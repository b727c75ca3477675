package ratelimit

import (
	"math"
	"time"
)

// DefaultWindowSeconds is the span of the minute gate when none is configured.
const DefaultWindowSeconds = 60

// Config holds the quotas of one service or IP tier.
type Config struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour" yaml:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day" yaml:"requests_per_day"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
	WindowSize        int `json:"window_size" yaml:"window_size"`
}

// Validate checks that every quota is usable.
func (c Config) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return invalid("requests_per_minute", "must be positive")
	}
	if c.RequestsPerHour <= 0 {
		return invalid("requests_per_hour", "must be positive")
	}
	if c.RequestsPerDay <= 0 {
		return invalid("requests_per_day", "must be positive")
	}
	if c.BurstSize <= 0 {
		return invalid("burst_size", "must be positive")
	}
	if c.WindowSize < 0 || c.WindowSize > DefaultWindowSeconds {
		return invalid("window_size", "must be between 1 and 60 seconds")
	}
	return nil
}

// Normalize fills defaulted fields.
func (c Config) Normalize() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSeconds
	}
	return c
}

// Limit returns the quota for a window class.
func (c Config) Limit(w Window) int {
	switch w {
	case WindowMinute:
		return c.RequestsPerMinute
	case WindowHour:
		return c.RequestsPerHour
	case WindowDay:
		return c.RequestsPerDay
	case WindowBurst:
		return c.BurstSize
	default:
		return 0
	}
}

// Span returns the evaluation span for a window class.
func (c Config) Span(w Window) time.Duration {
	if w == WindowMinute {
		if c.WindowSize <= 0 {
			return time.Minute
		}
		return time.Duration(c.WindowSize) * time.Second
	}
	return w.Duration()
}

// Scaled divides every quota by multiplier, flooring. Burst never drops below one.
func (c Config) Scaled(multiplier float64) Config {
	if multiplier <= 1 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return c
	}
	scale := func(v int) int {
		return int(math.Floor(float64(v) / multiplier))
	}
	out := c
	out.RequestsPerMinute = scale(c.RequestsPerMinute)
	out.RequestsPerHour = scale(c.RequestsPerHour)
	out.RequestsPerDay = scale(c.RequestsPerDay)
	out.BurstSize = scale(c.BurstSize)
	if out.BurstSize < 1 {
		out.BurstSize = 1
	}
	return out
}

// DefaultServiceLimits returns the built-in service table.
func DefaultServiceLimits() map[ServiceName]Config {
	return map[ServiceName]Config{
		ServiceDefault:           {RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 10000, BurstSize: 10, WindowSize: DefaultWindowSeconds},
		ServiceDataCollection:    {RequestsPerMinute: 30, RequestsPerHour: 500, RequestsPerDay: 2000, BurstSize: 5, WindowSize: DefaultWindowSeconds},
		ServiceAIProcessing:      {RequestsPerMinute: 100, RequestsPerHour: 2000, RequestsPerDay: 20000, BurstSize: 20, WindowSize: DefaultWindowSeconds},
		ServiceMarketplaceAPI:    {RequestsPerMinute: 20, RequestsPerHour: 300, RequestsPerDay: 1000, BurstSize: 3, WindowSize: DefaultWindowSeconds},
		ServicePipelineExecution: {RequestsPerMinute: 10, RequestsPerHour: 100, RequestsPerDay: 500, BurstSize: 2, WindowSize: DefaultWindowSeconds},
	}
}

// DefaultIPTierLimits returns the built-in IP tier table.
func DefaultIPTierLimits() map[IPTier]Config {
	return map[IPTier]Config{
		TierSuspicious: {RequestsPerMinute: 5, RequestsPerHour: 50, RequestsPerDay: 200, BurstSize: 2, WindowSize: DefaultWindowSeconds},
		TierNormal:     {RequestsPerMinute: 100, RequestsPerHour: 1000, RequestsPerDay: 10000, BurstSize: 20, WindowSize: DefaultWindowSeconds},
		TierTrusted:    {RequestsPerMinute: 500, RequestsPerHour: 5000, RequestsPerDay: 50000, BurstSize: 100, WindowSize: DefaultWindowSeconds},
	}
}
