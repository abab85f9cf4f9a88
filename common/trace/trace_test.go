package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/rivanna/common/trace"
)

func TestGenerateID_Unique(t *testing.T) {
	a, b := trace.GenerateID(), trace.GenerateID()
	if a == b {
		t.Fatalf("expected distinct IDs, got %q twice", a)
	}
	if !strings.HasPrefix(a, "t_") {
		t.Fatalf("expected t_ prefix, got %q", a)
	}
}

func TestContextRoundTrip(t *testing.T) {
	if got := trace.FromContext(context.Background()); got != "" {
		t.Fatalf("expected empty trace ID, got %q", got)
	}
	ctx := trace.WithTraceID(context.Background(), "t_abc")
	if got := trace.FromContext(ctx); got != "t_abc" {
		t.Fatalf("got %q, want t_abc", got)
	}
	if trace.Logger(ctx, nil) == nil {
		t.Fatal("Logger returned nil")
	}
}
