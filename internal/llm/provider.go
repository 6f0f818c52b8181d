// Package llm defines the provider-neutral LLM abstraction: the single
// generate/stream surface every provider implements, the tool loop driven
// on top of it, prompt-caching discipline, model clamps, and the
// process-wide failover flag. Concrete providers live in internal/llm/providers.
package llm

import (
	"context"

	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

// Provider is the single public surface every LLM backend implements.
// GenerateResponse always returns the final assembled assistant message;
// when req.Stream is true the same call also drives onEvent with
// text/thinking/tool events as they occur, terminating in exactly one
// streamevents.KindComplete or streamevents.KindError.
type Provider interface {
	// Name identifies the provider for logging and failover bookkeeping.
	Name() string

	// GenerateResponse drives one model call, including the tool loop when
	// req.Tools and req.Registry are both present.
	GenerateResponse(ctx context.Context, req *Request, onEvent func(streamevents.Event)) (*models.Message, error)
}

// Request holds every parameter generate_response accepts in the spec.
type Request struct {
	Messages []models.Message
	Tools    []models.ToolDefinition
	Registry ToolInvoker

	Stream bool

	EndpointURL      string // when set, routes to the generic adapter; ModelOverride is then required
	ModelOverride    string
	APIKeyOverride   string
	SystemOverride   string
	ThinkingEnabled  bool
	ThinkingBudget   int
	ContainerID      string
	CachingEnabled   bool
	MaxTokens        int
	Temperature      float64
	ReasoningDetails []byte // opaque, round-tripped unmodified when present
}

// ToolInvoker is the subset of the Tool Registry the provider needs to run
// the tool loop: parallel execution of detected tool calls.
type ToolInvoker interface {
	// ExecuteAll runs every call concurrently (bounded) and returns results
	// in the same order as calls, propagating ctx's ambient identity into
	// each worker.
	ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolOutcome
}

// smallContextFamilies maps a substring found in a model name to its
// max_tokens ceiling, per the model-specific clamp rule.
var smallContextFamilies = map[string]int{
	"haiku": 8192,
}

// ClampMaxTokens applies the model-specific clamp: if model matches a
// known small-context family, max_tokens is capped at that family's
// ceiling.
func ClampMaxTokens(model string, maxTokens int) int {
	for family, ceiling := range smallContextFamilies {
		if containsFold(model, family) && maxTokens > ceiling {
			return ceiling
		}
	}
	return maxTokens
}

func containsFold(s, substr string) bool {
	sl, subl := []rune(s), []rune(substr)
	if len(subl) == 0 || len(subl) > len(sl) {
		return len(subl) == 0
	}
	lower := func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}
	for i := 0; i+len(subl) <= len(sl); i++ {
		match := true
		for j := range subl {
			if lower(sl[i+j]) != lower(subl[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
