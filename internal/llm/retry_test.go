package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/mira-ai/mira/internal/streamevents"
)

func TestWithUpstreamRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	var events []streamevents.Event

	val, err := WithUpstreamRetry(context.Background(), func(e streamevents.Event) { events = append(events, e) }, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", NewProviderError("anthropic", "claude", errors.New("overloaded")).WithStatus(503)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Fatalf("got %q, want ok", val)
	}
	if attempts != 3 {
		t.Fatalf("got %d attempts, want 3", attempts)
	}
	if len(events) != 2 {
		t.Fatalf("got %d retry events, want 2", len(events))
	}
	for _, e := range events {
		if e.Kind != streamevents.KindRetry {
			t.Fatalf("got event kind %q, want retry", e.Kind)
		}
	}
}

func TestWithUpstreamRetryDoesNotRetryNonTransientErrors(t *testing.T) {
	attempts := 0
	_, err := WithUpstreamRetry(context.Background(), func(streamevents.Event) {}, func() (string, error) {
		attempts++
		return "", &RateLimitError{Provider: "anthropic", Cause: errors.New("429")}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("got %d attempts, want 1 (no retry for non-ProviderError)", attempts)
	}
}

func TestWithUpstreamRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	_, err := WithUpstreamRetry(context.Background(), func(streamevents.Event) {}, func() (string, error) {
		attempts++
		return "", NewProviderError("anthropic", "claude", errors.New("overloaded")).WithStatus(503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != MaxUpstreamRetries {
		t.Fatalf("got %d attempts, want %d", attempts, MaxUpstreamRetries)
	}
}
