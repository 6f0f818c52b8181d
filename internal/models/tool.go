package models

import "encoding/json"

// ToolDefinition is the Anthropic-style schema shape exposed by the Tool
// Registry: {name, description, input_schema}.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`

	// CacheControl is set on the last tool in a request when prompt
	// caching is enabled, caching the entire tool list.
	CacheControl string `json:"cache_control,omitempty"`
}

// ToolCall is a single invocation request surfaced by a provider stream.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolOutcome is the result of executing one ToolCall.
type ToolOutcome struct {
	ToolCallID string
	Result     string
	Err        error
}

// BreakerRecord is one entry in a per-turn circuit-breaker record list:
// (tool_name, result_hash | "", error | nil). Discarded when the turn ends.
type BreakerRecord struct {
	ToolName   string
	ResultHash string
	Err        error
}
