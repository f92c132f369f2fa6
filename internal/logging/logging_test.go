package logging

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req_123")
	if got := RequestID(ctx); got != "req_123" {
		t.Errorf("expected req_123, got %q", got)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger, got nil")
	}
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if New(level, "text") == nil {
			t.Errorf("New(%q) returned nil", level)
		}
	}
	if New("info", "json") == nil {
		t.Error("New json returned nil")
	}
}

func TestLAnnotatesRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_abc")
	ctx = WithLogger(ctx, New("info", "text"))
	if L(ctx) == nil {
		t.Fatal("expected annotated logger")
	}
}
