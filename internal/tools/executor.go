package tools

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mira-ai/mira/internal/models"
)

// identityKey is the context key the orchestrator sets once on its own
// goroutine, carrying the ambient row-level-security identity that must be
// re-applied on every worker goroutine a tool call runs on. Losing this
// propagation is a security bug, not a performance one.
type identityKey struct{}

// WithIdentity attaches the ambient RLS identity to ctx.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext recovers the RLS identity set by WithIdentity.
func IdentityFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(identityKey{}).(string)
	return v, ok
}

// ExecutorConfig bounds tool fan-out.
type ExecutorConfig struct {
	// Concurrency caps the number of tool calls running at once.
	Concurrency int
	// PerToolTimeout bounds a single tool invocation.
	PerToolTimeout time.Duration
}

// DefaultExecutorConfig returns 4-way concurrency with a 30s per-tool
// timeout.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{Concurrency: 4, PerToolTimeout: 30 * time.Second}
}

// ExecutionRecorder is the metrics collaborator an Executor reports each
// tool call's outcome and duration to. internal/observability.Metrics
// satisfies this.
type ExecutionRecorder interface {
	RecordToolExecution(toolName, status string, durationSeconds float64)
}

// Executor runs tool calls from a single assistant response in parallel on
// a bounded worker pool, propagating the caller's ambient identity into
// each worker.
type Executor struct {
	registry *Registry
	cfg      ExecutorConfig
	metrics  ExecutionRecorder
}

// NewExecutor builds an Executor bound to registry. metrics may be nil, in
// which case per-tool execution metrics are not recorded.
func NewExecutor(registry *Registry, cfg ExecutorConfig, metrics ExecutionRecorder) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultExecutorConfig().Concurrency
	}
	if cfg.PerToolTimeout <= 0 {
		cfg.PerToolTimeout = DefaultExecutorConfig().PerToolTimeout
	}
	return &Executor{registry: registry, cfg: cfg, metrics: metrics}
}

// ExecuteAll runs every call concurrently (bounded by cfg.Concurrency) and
// returns outcomes in the same order as calls. Errors from individual
// tools are captured per-outcome, not returned — a tool failure never
// aborts sibling tool executions within the same response.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolOutcome {
	outcomes := make([]models.ToolOutcome, len(calls))

	identity, hasIdentity := IdentityFromContext(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			workerCtx := gctx
			if hasIdentity {
				workerCtx = WithIdentity(workerCtx, identity)
			}
			workerCtx, cancel := context.WithTimeout(workerCtx, e.cfg.PerToolTimeout)
			defer cancel()

			start := time.Now()
			result, err := e.registry.InvokeTool(workerCtx, call.Name, call.Input)
			if e.metrics != nil {
				status := "success"
				if err != nil {
					status = "error"
				}
				e.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
			}
			if err != nil {
				outcomes[i] = models.ToolOutcome{ToolCallID: call.ID, Err: err}
				return nil
			}
			outcomes[i] = models.ToolOutcome{ToolCallID: call.ID, Result: result}
			return nil
		})
	}

	// g.Wait() only returns non-nil if a worker returned an error, which
	// we never do above (failures are captured per-outcome) — parallel
	// tool execution must never abort siblings.
	_ = g.Wait()
	return outcomes
}
