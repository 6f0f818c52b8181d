package llm

import (
	"context"
	"time"

	"github.com/mira-ai/mira/internal/backoff"
	"github.com/mira-ai/mira/internal/streamevents"
)

// MaxUpstreamRetries bounds how many times WithUpstreamRetry will retry a
// single transient provider failure before giving up and returning the
// last error to the caller.
const MaxUpstreamRetries = 3

// WithUpstreamRetry runs fn, retrying with exponential backoff while the
// returned error classifies as a transient *ProviderError (server error,
// timeout, model unavailable — the same classification failover.TripIfWarranted
// uses). Rate limits and auth failures surface as RateLimitError/
// PermissionError, not ProviderError, so they are returned on the first
// attempt without retrying here. Each retry emits a streamevents.Retry so a
// streaming client sees backoff happening instead of a stalled connection.
func WithUpstreamRetry[T any](ctx context.Context, onEvent func(streamevents.Event), fn func() (T, error)) (T, error) {
	policy := backoff.DefaultPolicy()
	var zero T
	var lastErr error

	for attempt := 1; attempt <= MaxUpstreamRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		val, err := fn()
		if err == nil {
			return val, nil
		}
		lastErr = err

		pe, ok := GetProviderError(err)
		if !ok || !pe.Reason.TripsFailover() || attempt == MaxUpstreamRetries {
			return zero, err
		}

		delay := backoff.ComputeBackoff(policy, attempt)
		onEvent(streamevents.Retry(attempt, MaxUpstreamRetries, delay.String()))

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
