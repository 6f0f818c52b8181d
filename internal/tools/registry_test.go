package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mira-ai/mira/internal/models"
)

func echoDef(name string) models.ToolDefinition {
	return models.ToolDefinition{
		Name:        name,
		Description: "echoes its input",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
	}
}

func TestRegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoDef("echo"), func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		return in.Text, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	out, err := r.InvokeTool(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	if out != "hi" {
		t.Fatalf("got %q, want %q", out, "hi")
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.InvokeTool(context.Background(), "missing", nil)
	var unknown *ErrUnknownTool
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if !asUnknownTool(err, &unknown) {
		t.Fatalf("got %v, want ErrUnknownTool", err)
	}
}

func asUnknownTool(err error, target **ErrUnknownTool) bool {
	e, ok := err.(*ErrUnknownTool)
	if ok {
		*target = e
	}
	return ok
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoDef("echo"), func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Validate("echo", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected validation error for missing required field")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("got %T, want *ValidationError", err)
	}
	if len(verr.Schema) == 0 {
		t.Fatal("ValidationError must carry the tool's input schema for model self-correction")
	}
}

func TestDefinitionsSortedByName(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoDef("zeta"), func(ctx context.Context, args json.RawMessage) (string, error) { return "", nil })
	_ = r.Register(echoDef("alpha"), func(ctx context.Context, args json.RawMessage) (string, error) { return "", nil })

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("got %+v, want sorted [alpha, zeta]", defs)
	}
}
