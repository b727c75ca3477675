package handlers

import (
	"fmt"
	"testing"
	"time"

	"github.com/router-for-me/ratelimitd/internal/config"
)

func TestLoginThrottleStaysBounded(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewAuthHandler(config.JWTConfig{}, config.AdminConfig{LoginRatePerMinute: 3})
	h.nowFn = func() time.Time { return now }

	for i := 0; i < maxLoginThrottleEntries; i++ {
		if !h.allow(fmt.Sprintf("ip-%d", i)) {
			t.Fatalf("expected first attempt from ip-%d allowed", i)
		}
	}
	if h.allow("late") {
		t.Fatalf("expected new address refused while every entry is active")
	}
	if len(h.throttle) != maxLoginThrottleEntries {
		t.Fatalf("expected %d entries, got %d", maxLoginThrottleEntries, len(h.throttle))
	}

	now = now.Add(time.Minute)
	if !h.allow("late") {
		t.Fatalf("expected new address allowed once buckets refill")
	}
	if len(h.throttle) != 1 {
		t.Fatalf("expected refilled entries evicted, got %d", len(h.throttle))
	}
}
