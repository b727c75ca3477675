package ratelimit

import "strings"

const ipKeyPrefix = "ip:"

// CounterKey identifies one counter: a logical key in one window class.
type CounterKey struct {
	Logical string
	Window  Window
}

func (k CounterKey) String() string {
	return k.Logical + ":" + string(k.Window)
}

// IPKey builds the logical key used for per-IP counters and penalties.
func IPKey(ip string) string {
	return ipKeyPrefix + strings.TrimSpace(ip)
}

// KeyForRequest resolves the logical key of a request.
func KeyForRequest(req Request) string {
	if key := strings.TrimSpace(req.Key); key != "" {
		return key
	}
	if userID := strings.TrimSpace(req.UserID); userID != "" {
		return "user:" + userID
	}
	return "anonymous"
}
