package main

import (
	"context"
	"testing"
)

func TestValidatePort(t *testing.T) {
	if err := validatePort(8318); err != nil {
		t.Fatalf("expected valid port, got %v", err)
	}
	for _, port := range []int{-1, 0, 70000} {
		if err := validatePort(port); err == nil {
			t.Fatalf("expected error for port %d", port)
		}
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	if err := run(context.Background(), []string{"-port", "70000"}); err == nil {
		t.Fatalf("expected invalid port error")
	}
	if err := run(context.Background(), []string{"-unknown"}); err == nil {
		t.Fatalf("expected flag parse error")
	}
}
