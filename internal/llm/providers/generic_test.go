package providers

import (
	"encoding/json"
	"testing"

	"github.com/mira-ai/mira/internal/models"
)

func TestMapStopReason(t *testing.T) {
	cases := map[string]string{
		"stop":       "end_turn",
		"tool_calls": "tool_use",
		"length":     "max_tokens",
		"other":      "other",
	}
	for in, want := range cases {
		if got := mapStopReason(in); got != want {
			t.Errorf("mapStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripContainerUploadNote(t *testing.T) {
	got := stripContainerUploadNote(`{"type":"container_upload","file_id":"abc"}`)
	if got == `{"type":"container_upload","file_id":"abc"}` {
		t.Fatal("expected container_upload reference to be replaced")
	}
	plain := stripContainerUploadNote("ordinary text")
	if plain != "ordinary text" {
		t.Fatalf("got %q, want unchanged text", plain)
	}
}

func TestConvertMessagesToOpenAISplitsToolResults(t *testing.T) {
	msgs := []models.Message{
		models.NewUserMessage("hello"),
		{
			Role: models.RoleUser,
			Blocks: []models.ContentBlock{
				models.NewToolResultBlock("call-1", "42", false),
			},
		},
	}
	out := convertMessagesToOpenAI(msgs, "be helpful")
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3 (system + user + tool)", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "be helpful" {
		t.Errorf("system message: %+v", out[0])
	}
	if out[2].Role != "tool" || out[2].ToolCallID != "call-1" {
		t.Errorf("tool message: %+v", out[2])
	}
}

func TestConvertToolsToOpenAIFallsBackOnBadSchema(t *testing.T) {
	tools := []models.ToolDefinition{{Name: "broken", InputSchema: json.RawMessage(`not json`)}}
	out := convertToolsToOpenAI(tools)
	if len(out) != 1 || out[0].Function.Name != "broken" {
		t.Fatalf("got %+v", out)
	}
}
