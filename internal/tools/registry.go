// Package tools implements the Tool Registry (schemas, dispatch) and a
// bounded-concurrency Executor that fans tool calls out in parallel while
// propagating the caller's ambient row-level-security identity into every
// worker goroutine.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mira-ai/mira/internal/models"
)

// Handler executes one tool call and returns its result text, or an error.
// Implementations are the concrete tool set (email, pager, web, calendar,
// etc.) — out of scope for this module; callers register their own.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// entry pairs a tool's definition with its handler and compiled schema.
type entry struct {
	def     models.ToolDefinition
	schema  *jsonschema.Schema
	handler Handler
}

// Registry holds tool definitions and dispatches invoke(name, args). Tool
// schemas are compiled once at registration time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register compiles def's input_schema and associates it with handler. It
// replaces any prior registration under the same name.
func (r *Registry) Register(def models.ToolDefinition, handler Handler) error {
	schema, err := compileSchema(def.Name, def.InputSchema)
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = &entry{def: def, schema: schema, handler: handler}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool://%s/input_schema.json", name)
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Definitions returns the currently enabled tool schemas, sorted by name.
// When caching is enabled, the caller is responsible for setting
// CacheControl on the last element (§4.4 item 2).
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetToolDefinition returns the definition for name, if registered.
func (r *Registry) GetToolDefinition(name string) (models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return models.ToolDefinition{}, false
	}
	return e.def, true
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// ErrUnknownTool is returned by Validate and InvokeTool for an
// unregistered name.
type ErrUnknownTool struct{ Name string }

func (e *ErrUnknownTool) Error() string { return fmt.Sprintf("tool not found: %s", e.Name) }

// ValidationError wraps a schema validation failure with the tool's input
// schema appended, so the model can self-correct (§4.4 item 9).
type ValidationError struct {
	ToolName string
	Cause    error
	Schema   json.RawMessage
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for tool %q: %v (expected schema: %s)", e.ToolName, e.Cause, e.Schema)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// Validate checks args against the tool's compiled input_schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return &ErrUnknownTool{Name: name}
	}

	var decoded any
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &ValidationError{ToolName: name, Cause: err, Schema: e.def.InputSchema}
	}
	if err := e.schema.Validate(decoded); err != nil {
		return &ValidationError{ToolName: name, Cause: err, Schema: e.def.InputSchema}
	}
	return nil
}

// InvokeTool validates args then executes the tool synchronously,
// returning its result text or an error.
func (r *Registry) InvokeTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", &ErrUnknownTool{Name: name}
	}
	if err := r.Validate(name, args); err != nil {
		return "", err
	}
	return e.handler(ctx, args)
}
