package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mira-ai/mira/internal/circuitbreaker"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

// PrepareSystemPrompt implements §4.4 item 1: if the first message has
// role=system, its text is extracted and the remaining messages keep their
// order. When caching is enabled the extracted system text is returned
// with cacheEligible=true, signalling the caller to wrap it as a single
// ephemeral-cache block.
func PrepareSystemPrompt(messages []models.Message, cachingEnabled bool) (system string, cacheEligible bool, rest []models.Message) {
	if len(messages) == 0 || messages[0].Role != models.RoleSystem {
		return "", false, messages
	}
	return messages[0].Text(), cachingEnabled, messages[1:]
}

// PrepareTools implements §4.4 item 2: when caching is enabled and tools
// are supplied, the last tool receives an ephemeral cache marker, caching
// the entire tool list.
func PrepareTools(tools []models.ToolDefinition, cachingEnabled bool) []models.ToolDefinition {
	if !cachingEnabled || len(tools) == 0 {
		return tools
	}
	out := make([]models.ToolDefinition, len(tools))
	copy(out, tools)
	out[len(out)-1].CacheControl = "ephemeral"
	return out
}

// StripThinkingBlocks implements §4.4 item 3's thinking-block discipline.
// When thinkingEnabled is false, every thinking block is stripped. When
// true, only thinking blocks lacking a valid provider signature are
// stripped (these originate from the generic adapter and would be
// rejected by the native provider).
func StripThinkingBlocks(messages []models.Message, thinkingEnabled bool) []models.Message {
	out := make([]models.Message, len(messages))
	for i, m := range messages {
		if !m.HasThinking() {
			out[i] = m
			continue
		}
		kept := make([]models.ContentBlock, 0, len(m.Blocks))
		for _, blk := range m.Blocks {
			if blk.Type != models.BlockThinking {
				kept = append(kept, blk)
				continue
			}
			if thinkingEnabled && blk.Signature != "" {
				kept = append(kept, blk)
			}
		}
		m.Blocks = kept
		out[i] = m
	}
	return out
}

// paramValidationMarkers are the substrings that identify a tool failure
// as parameter-shaped, warranting the tool's schema being appended to the
// error for model self-correction (§4.4 item 9).
var paramValidationMarkers = []string{"unknown operation", "invalid", "required", "missing", "parameter"}

// IsParameterValidationError reports whether err's text matches the
// parameter-validation pattern.
func IsParameterValidationError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, m := range paramValidationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// InvokeOtherToolName is the well-known meta-tool the generic adapter
// synthesizes when the remote model calls a tool absent from the current
// request (§4.5).
const InvokeOtherToolName = "invokeother_tool"

// RunToolLoop drives §4.4 item 9: given the assistant's first response and
// a way to produce the next one, it executes detected tool calls in
// parallel, records them in a fresh circuit breaker, and either returns
// the final message or indicates the caller must force a textual
// finalization (tools=nil) because the breaker tripped.
//
// next is called to re-invoke the model with the accumulated working
// messages; it must return the next assistant response (possibly
// containing more tool_use blocks) or an error.
func RunToolLoop(
	ctx context.Context,
	first *models.Message,
	workingMessages []models.Message,
	invoker ToolInvoker,
	toolDefForName func(name string) (models.ToolDefinition, bool),
	onEvent func(streamevents.Event),
	next func(ctx context.Context, messages []models.Message, toolsDisabled bool) (*models.Message, error),
) (*models.Message, error) {
	breaker := circuitbreaker.New()
	response := first

	for {
		calls := toolCallsFromMessage(response)
		if len(calls) == 0 {
			return response, nil
		}

		for _, c := range calls {
			onEvent(streamevents.ToolExecuting(c.Name, c.ID, string(c.Input)))
		}

		outcomes := invoker.ExecuteAll(ctx, calls)

		resultBlocks := make([]models.ContentBlock, 0, len(outcomes))
		stop := false
		stopReason := ""

		for i, o := range outcomes {
			call := calls[i]
			if o.Err != nil {
				msg := o.Err.Error()
				if IsParameterValidationError(o.Err) {
					if def, ok := toolDefForName(call.Name); ok {
						msg = fmt.Sprintf("%s (expected schema: %s)", msg, def.InputSchema)
					}
				}
				breaker.Record(call.Name, "", fmt.Errorf("%s", msg))
				onEvent(streamevents.ToolError(call.Name, call.ID, fmt.Errorf("%s", msg)))
				resultBlocks = append(resultBlocks, models.NewToolResultBlock(call.ID, msg, true))
			} else {
				breaker.Record(call.Name, o.Result, nil)
				onEvent(streamevents.ToolCompleted(call.Name, call.ID, o.Result))
				resultBlocks = append(resultBlocks, models.NewToolResultBlock(call.ID, o.Result, false))
			}

			if ok, reason := breaker.ShouldContinue(); !ok {
				stop = true
				stopReason = reason
			}
		}

		assistantTurn := models.NewAssistantMessage(response.Blocks, nil)
		userTurn := models.Message{Role: models.RoleUser, Blocks: resultBlocks}
		workingMessages = append(workingMessages, assistantTurn, userTurn)

		if stop {
			onEvent(streamevents.CircuitBreaker(stopReason))
			noteBlocks := append([]models.ContentBlock{}, resultBlocks...)
			noteBlocks = append(noteBlocks, models.NewTextBlock(fmt.Sprintf("[automated-system-message: tool loop stopped — %s]", stopReason)))
			workingMessages[len(workingMessages)-1].Blocks = noteBlocks

			final, err := next(ctx, workingMessages, true)
			if err != nil {
				return nil, err
			}
			return final, nil
		}

		nextResp, err := next(ctx, workingMessages, false)
		if err != nil {
			return nil, err
		}
		response = nextResp
	}
}

func toolCallsFromMessage(m *models.Message) []models.ToolCall {
	if m == nil {
		return nil
	}
	var calls []models.ToolCall
	for _, blk := range m.ToolUseBlocks() {
		input := blk.ToolInput
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		calls = append(calls, models.ToolCall{ID: blk.ToolUseID, Name: blk.ToolName, Input: input})
	}
	return calls
}
