package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mira-ai/mira/internal/models"
)

func TestExecuteAllPreservesOrderAndIsolatesFailures(t *testing.T) {
	r := NewRegistry()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(r.Register(models.ToolDefinition{Name: "ok", InputSchema: json.RawMessage(`{}`)},
		func(ctx context.Context, args json.RawMessage) (string, error) { return "fine", nil }))
	must(r.Register(models.ToolDefinition{Name: "boom", InputSchema: json.RawMessage(`{}`)},
		func(ctx context.Context, args json.RawMessage) (string, error) { return "", errors.New("kaboom") }))

	ex := NewExecutor(r, ExecutorConfig{Concurrency: 2}, nil)
	calls := []models.ToolCall{
		{ID: "1", Name: "ok"},
		{ID: "2", Name: "boom"},
		{ID: "3", Name: "ok"},
	}
	outcomes := ex.ExecuteAll(context.Background(), calls)

	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	if outcomes[0].ToolCallID != "1" || outcomes[0].Result != "fine" {
		t.Errorf("outcome 0: %+v", outcomes[0])
	}
	if outcomes[1].ToolCallID != "2" || outcomes[1].Err == nil {
		t.Errorf("outcome 1 should carry the tool's error: %+v", outcomes[1])
	}
	if outcomes[2].ToolCallID != "3" || outcomes[2].Result != "fine" {
		t.Errorf("outcome 2: %+v", outcomes[2])
	}
}

func TestExecuteAllPropagatesIdentity(t *testing.T) {
	r := NewRegistry()
	var seenIdentity string
	if err := r.Register(models.ToolDefinition{Name: "whoami", InputSchema: json.RawMessage(`{}`)},
		func(ctx context.Context, args json.RawMessage) (string, error) {
			id, _ := IdentityFromContext(ctx)
			seenIdentity = id
			return id, nil
		}); err != nil {
		t.Fatal(err)
	}

	ex := NewExecutor(r, ExecutorConfig{Concurrency: 1}, nil)
	ctx := WithIdentity(context.Background(), "user-42")
	ex.ExecuteAll(ctx, []models.ToolCall{{ID: "1", Name: "whoami"}})

	if seenIdentity != "user-42" {
		t.Fatalf("got identity %q, want %q propagated into the worker", seenIdentity, "user-42")
	}
}

// fakeRecorder captures ExecutionRecorder calls for assertion without
// pulling in the full observability.Metrics/Prometheus registry.
type fakeRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRecorder) RecordToolExecution(toolName, status string, durationSeconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, toolName+":"+status)
}

func TestExecuteAllRecordsMetricsPerOutcome(t *testing.T) {
	r := NewRegistry()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(r.Register(models.ToolDefinition{Name: "ok", InputSchema: json.RawMessage(`{}`)},
		func(ctx context.Context, args json.RawMessage) (string, error) { return "fine", nil }))
	must(r.Register(models.ToolDefinition{Name: "boom", InputSchema: json.RawMessage(`{}`)},
		func(ctx context.Context, args json.RawMessage) (string, error) { return "", errors.New("kaboom") }))

	rec := &fakeRecorder{}
	ex := NewExecutor(r, ExecutorConfig{Concurrency: 2}, rec)
	ex.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "1", Name: "ok"},
		{ID: "2", Name: "boom"},
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 2 {
		t.Fatalf("got %d recorded calls, want 2", len(rec.calls))
	}
	want := map[string]bool{"ok:success": false, "boom:error": false}
	for _, c := range rec.calls {
		if _, ok := want[c]; !ok {
			t.Fatalf("unexpected recorded call %q", c)
		}
		want[c] = true
	}
	for c, seen := range want {
		if !seen {
			t.Fatalf("expected recorded call %q, not seen in %v", c, rec.calls)
		}
	}
}
