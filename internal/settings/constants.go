package settings

import "time"

// Defaults shared by configuration loading and the server.
const (
	// DefaultPort is the HTTP listen port when none is configured.
	DefaultPort = 8318
	// DefaultRedisPrefix is the fallback Redis key prefix for counters.
	DefaultRedisPrefix = "ratelimitd:rl"
	// DefaultRedisTimeout bounds each Redis counter operation.
	DefaultRedisTimeout = 50 * time.Millisecond
	// DefaultBreakerDuration keeps traffic on the in-memory store after a Redis failure.
	DefaultBreakerDuration = 30 * time.Second
	// DefaultCleanupInterval is how often expired state is swept.
	DefaultCleanupInterval = time.Minute
	// DefaultRetention is how long idle keys and in-memory counters are kept.
	DefaultRetention = time.Hour
	// DefaultLogLevel is the logrus level used when none is configured.
	DefaultLogLevel = "info"
	// DefaultAdminUsername is the administrator login when none is configured.
	DefaultAdminUsername = "admin"
	// DefaultLoginRatePerMinute throttles admin login attempts per client address.
	DefaultLoginRatePerMinute = 10
	// DefaultAuditLimit caps audit listings.
	DefaultAuditLimit = 100
)
