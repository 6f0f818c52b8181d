// Package streamevents defines the tagged stream event variant emitted
// during one turn of LLM generation: text/thinking deltas, tool lifecycle,
// circuit-breaker and retry notices, and exactly one terminal event
// (Complete or Error) per stream.
package streamevents

import "github.com/mira-ai/mira/internal/models"

// Kind discriminates an Event.
type Kind string

const (
	KindText           Kind = "text"
	KindThinking       Kind = "thinking"
	KindToolDetected   Kind = "tool_detected"
	KindToolExecuting  Kind = "tool_executing"
	KindToolCompleted  Kind = "tool_completed"
	KindToolError      Kind = "tool_error"
	KindCircuitBreaker Kind = "circuit_breaker"
	KindRetry          Kind = "retry"
	KindComplete       Kind = "complete"
	KindError          Kind = "error"
)

// IsTerminal reports whether this kind ends a stream. Exactly one terminal
// event is emitted per stream: Complete on success or Error on failure.
func (k Kind) IsTerminal() bool {
	return k == KindComplete || k == KindError
}

// Event is the tagged union. Only the field(s) matching Kind are populated.
type Event struct {
	Kind Kind

	// KindText / KindThinking
	Content string

	// KindToolDetected / KindToolExecuting / KindToolCompleted / KindToolError
	ToolName string
	ToolID   string
	Args     string // arguments, present on ToolExecuting
	Result   string // present on ToolCompleted
	Err      error  // present on ToolError / Error

	// KindCircuitBreaker
	Reason string

	// KindRetry
	Attempt    int
	MaxRetries int
	Delay      string

	// KindComplete
	Response *models.Message

	// KindError
	TechnicalDetails string
}

// Text builds a KindText event.
func Text(content string) Event { return Event{Kind: KindText, Content: content} }

// Thinking builds a KindThinking event.
func Thinking(content string) Event { return Event{Kind: KindThinking, Content: content} }

// ToolDetected builds a KindToolDetected event, emitted once per tool id
// when a tool_use content block starts streaming in.
func ToolDetected(name, id string) Event {
	return Event{Kind: KindToolDetected, ToolName: name, ToolID: id}
}

// ToolExecuting builds a KindToolExecuting event.
func ToolExecuting(name, id, args string) Event {
	return Event{Kind: KindToolExecuting, ToolName: name, ToolID: id, Args: args}
}

// ToolCompleted builds a KindToolCompleted event.
func ToolCompleted(name, id, result string) Event {
	return Event{Kind: KindToolCompleted, ToolName: name, ToolID: id, Result: result}
}

// ToolError builds a KindToolError event.
func ToolError(name, id string, err error) Event {
	return Event{Kind: KindToolError, ToolName: name, ToolID: id, Err: err}
}

// CircuitBreaker builds a KindCircuitBreaker event.
func CircuitBreaker(reason string) Event {
	return Event{Kind: KindCircuitBreaker, Reason: reason}
}

// Retry builds a KindRetry event.
func Retry(attempt, maxRetries int, delay string) Event {
	return Event{Kind: KindRetry, Attempt: attempt, MaxRetries: maxRetries, Delay: delay}
}

// Complete builds the terminal KindComplete event.
func Complete(response *models.Message) Event {
	return Event{Kind: KindComplete, Response: response}
}

// Error builds the terminal KindError event.
func Error(err error, technicalDetails string) Event {
	return Event{Kind: KindError, Err: err, TechnicalDetails: technicalDetails}
}
