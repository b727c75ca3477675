package ratelimit

import (
	"context"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Window identifies a counting window class.
type Window string

const (
	WindowBurst  Window = "burst"
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Windows lists the window classes in evaluation order.
var Windows = []Window{WindowMinute, WindowHour, WindowDay, WindowBurst}

// Duration returns the retention span of the window class.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowBurst:
		return 10 * time.Second
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether w is a known window class.
func (w Window) Valid() bool {
	return w.Duration() > 0
}

// ServiceName names a limit configuration in the registry.
type ServiceName string

const (
	ServiceDefault           ServiceName = "default"
	ServiceDataCollection    ServiceName = "data_collection"
	ServiceAIProcessing      ServiceName = "ai_processing"
	ServiceMarketplaceAPI    ServiceName = "marketplace_api"
	ServicePipelineExecution ServiceName = "pipeline_execution"
)

// IPTier categorizes a client address.
type IPTier string

const (
	TierSuspicious IPTier = "suspicious"
	TierNormal     IPTier = "normal"
	TierTrusted    IPTier = "trusted"
)

// Valid reports whether t is a known tier.
func (t IPTier) Valid() bool {
	switch t {
	case TierSuspicious, TierNormal, TierTrusted:
		return true
	default:
		return false
	}
}

// Gate names the check that produced a decision.
type Gate string

const (
	GateNone    Gate = ""
	GateIPBlock Gate = "ip_block"
	GateMinute  Gate = "minute"
	GateHour    Gate = "hour"
	GateDay     Gate = "day"
	GateBurst   Gate = "burst"
	GateIP      Gate = "ip"
)

// Result describes the outcome of an admission check.
type Result struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetTime  time.Time
	RetryAfter *time.Duration
	Gate       Gate
	Reason     string
}

// RetryAfterSeconds returns the retry hint rounded up to whole seconds, or zero.
func (r Result) RetryAfterSeconds() int {
	if r.RetryAfter == nil {
		return 0
	}
	return ceilSeconds(*r.RetryAfter)
}

// Request carries the inputs of an admission check.
type Request struct {
	Key     string
	Service ServiceName
	IP      string
	UserID  string
}

// Decider is implemented by anything that can answer admission checks.
type Decider interface {
	Check(ctx context.Context, req Request) Result
}

// WindowUsage is the observed state of one window for a key.
type WindowUsage struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// Status is a read-only snapshot of a key's limits and usage.
type Status struct {
	Key         string                 `json:"key"`
	Service     ServiceName            `json:"service"`
	Limits      Config                 `json:"limits"`
	BaseLimits  Config                 `json:"base_limits"`
	Usage       map[Window]WindowUsage `json:"usage"`
	Penalty     *PenaltyInfo           `json:"penalty,omitempty"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// PenaltyInfo describes an active penalty.
type PenaltyInfo struct {
	Key        string    `json:"key"`
	Multiplier float64   `json:"multiplier"`
	AppliedAt  time.Time `json:"applied_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// BlockedIP describes an active IP block.
type BlockedIP struct {
	IP               string    `json:"ip"`
	Reason           string    `json:"reason"`
	BlockedAt        time.Time `json:"blocked_at"`
	UnblockTime      time.Time `json:"unblock_time"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// GlobalStats summarizes the limiter state.
type GlobalStats struct {
	ActiveKeys      int       `json:"active_keys"`
	BlockedIPs      int       `json:"blocked_ips"`
	TrustedIPs      int       `json:"trusted_ips"`
	ActivePenalties int       `json:"active_penalties"`
	Services        int       `json:"services"`
	Backend         string    `json:"backend"`
	Failovers       uint64    `json:"failovers"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// CleanupReport counts what a cleanup pass removed.
type CleanupReport struct {
	ExpiredBlocks    int       `json:"expired_blocks"`
	ExpiredPenalties int       `json:"expired_penalties"`
	PrunedCounters   int       `json:"pruned_counters"`
	ForgottenKeys    int       `json:"forgotten_keys"`
	RanAt            time.Time `json:"ran_at"`
}

// AnomalyType names a detected pattern.
type AnomalyType string

const (
	AnomalyHighRequestRate  AnomalyType = "high_request_rate"
	AnomalyMultipleIPBlocks AnomalyType = "multiple_ip_blocks"
	AnomalyStoreFailover    AnomalyType = "store_failover"
)

// Anomaly is a single detected pattern.
type Anomaly struct {
	Type       AnomalyType `json:"type"`
	Subject    string      `json:"subject,omitempty"`
	Severity   string      `json:"severity"`
	Value      int         `json:"value"`
	Threshold  int         `json:"threshold"`
	Message    string      `json:"message"`
	DetectedAt time.Time   `json:"detected_at"`
}
