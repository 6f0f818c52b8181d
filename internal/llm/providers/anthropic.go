// Package providers implements the concrete llm.Provider backends: a native
// Anthropic streaming client and an OpenAI-compatible generic adapter shared
// by every self-hosted or third-party endpoint.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Failover     *llm.Failover
}

// AnthropicProvider implements llm.Provider against Anthropic's native
// Messages API, including prompt caching, extended thinking, and the tool
// loop.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	failover     *llm.Failover
}

// NewAnthropicProvider builds an AnthropicProvider. A nil cfg.Failover
// disables process-wide failover consultation (tests, single-shot tools).
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		failover:     cfg.Failover,
	}, nil
}

// Name identifies this provider for logging and event metadata.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// GenerateResponse drives one turn against Claude, including the full tool
// loop when req.Tools and req.Registry are present (§4.4 items 1-10).
func (p *AnthropicProvider) GenerateResponse(ctx context.Context, req *llm.Request, onEvent func(streamevents.Event)) (*models.Message, error) {
	if onEvent == nil {
		onEvent = func(streamevents.Event) {}
	}

	model := req.ModelOverride
	if model == "" {
		model = p.defaultModel
	}
	thinkingEnabled := req.ThinkingEnabled

	if p.failover != nil {
		if _, _, forceThinkingOff := p.failover.Route(); forceThinkingOff {
			thinkingEnabled = false
		}
	}

	system, cacheSystem, rest := llm.PrepareSystemPrompt(req.Messages, req.CachingEnabled)
	rest = llm.StripThinkingBlocks(rest, thinkingEnabled)
	tools := llm.PrepareTools(req.Tools, req.CachingEnabled)

	callModel := func(ctx context.Context, messages []models.Message, toolsDisabled bool) (*models.Message, error) {
		activeTools := tools
		if toolsDisabled {
			activeTools = nil
		}
		return llm.WithUpstreamRetry(ctx, onEvent, func() (*models.Message, error) {
			msg, err := p.call(ctx, model, system, cacheSystem, messages, activeTools, thinkingEnabled, req, onEvent)
			if err != nil {
				return nil, p.wrapError(err, model)
			}
			return msg, nil
		})
	}

	first, err := callModel(ctx, rest, len(tools) == 0)
	if err != nil {
		if pe, ok := llm.GetProviderError(err); ok && p.failover != nil {
			p.failover.TripIfWarranted(pe.Reason)
		}
		onEvent(streamevents.Error(err, err.Error()))
		return nil, err
	}

	if req.Registry == nil || len(tools) == 0 {
		onEvent(streamevents.Complete(first))
		return first, nil
	}

	toolDef := func(name string) (models.ToolDefinition, bool) {
		for _, t := range tools {
			if t.Name == name {
				return t, true
			}
		}
		return models.ToolDefinition{}, false
	}

	final, err := llm.RunToolLoop(ctx, first, rest, req.Registry, toolDef, onEvent, func(ctx context.Context, messages []models.Message, toolsDisabled bool) (*models.Message, error) {
		return callModel(ctx, messages, toolsDisabled)
	})
	if err != nil {
		onEvent(streamevents.Error(err, err.Error()))
		return nil, err
	}

	onEvent(streamevents.Complete(final))
	return final, nil
}

func (p *AnthropicProvider) call(
	ctx context.Context,
	model, system string,
	cacheSystem bool,
	messages []models.Message,
	tools []models.ToolDefinition,
	thinkingEnabled bool,
	req *llm.Request,
	onEvent func(streamevents.Event),
) (*models.Message, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertMessages(messages),
		MaxTokens: int64(llm.ClampMaxTokens(model, maxTokensOrDefault(req.MaxTokens))),
	}

	if system != "" {
		block := anthropic.TextBlockParam{Type: "text", Text: system}
		if cacheSystem {
			block.CacheControl = anthropic.CacheControlEphemeralParam{Type: "ephemeral"}
		}
		params.System = []anthropic.TextBlockParam{block}
	}

	if len(tools) > 0 {
		converted, err := convertTools(tools)
		if err != nil {
			return nil, err
		}
		params.Tools = converted
	}

	if thinkingEnabled {
		budget := int64(req.ThinkingBudget)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	if !req.Stream {
		resp, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, err
		}
		return messageFromResponse(resp, req.ContainerID), nil
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	return p.consumeStream(stream, req.ContainerID, onEvent)
}

func maxTokensOrDefault(v int) int {
	if v <= 0 {
		return 4096
	}
	return v
}

// consumeStream turns Anthropic's SSE event sequence into a fully-assembled
// message, emitting text/thinking/tool_detected events as they arrive.
func (p *AnthropicProvider) consumeStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], containerID string, onEvent func(streamevents.Event)) (*models.Message, error) {
	var blocks []models.ContentBlock
	var curText strings.Builder
	var curThinking strings.Builder
	var curSignature string
	var curToolID, curToolName string
	var curToolInput strings.Builder
	blockType := ""

	flush := func() {
		switch blockType {
		case "text":
			blocks = append(blocks, models.NewTextBlock(curText.String()))
		case "thinking":
			blocks = append(blocks, models.ContentBlock{Type: models.BlockThinking, Thinking: curThinking.String(), Signature: curSignature})
		case "tool_use":
			input := json.RawMessage(curToolInput.String())
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, models.NewToolUseBlock(curToolID, curToolName, input))
		}
		curText.Reset()
		curThinking.Reset()
		curSignature = ""
		curToolInput.Reset()
		blockType = ""
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			switch start.ContentBlock.Type {
			case "thinking":
				blockType = "thinking"
			case "tool_use":
				blockType = "tool_use"
				toolUse := start.ContentBlock.AsToolUse()
				curToolID = toolUse.ID
				curToolName = toolUse.Name
				onEvent(streamevents.ToolDetected(curToolName, curToolID))
			default:
				blockType = "text"
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				curText.WriteString(delta.Text)
				onEvent(streamevents.Text(delta.Text))
			case "thinking_delta":
				curThinking.WriteString(delta.Thinking)
				onEvent(streamevents.Thinking(delta.Thinking))
			case "signature_delta":
				curSignature += delta.Signature
			case "input_json_delta":
				curToolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			flush()

		case "message_stop":
			meta := &models.AssistantMetadata{ContainerID: containerID}
			return &models.Message{
				ID:        uuid.New(),
				Role:      models.RoleAssistant,
				Blocks:    blocks,
				CreatedAt: time.Now().UTC(),
				Assistant: meta,
			}, nil

		case "error":
			return nil, fmt.Errorf("anthropic stream error")
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}
	meta := &models.AssistantMetadata{ContainerID: containerID}
	return &models.Message{ID: uuid.New(), Role: models.RoleAssistant, Blocks: blocks, CreatedAt: time.Now().UTC(), Assistant: meta}, nil
}

func convertMessages(messages []models.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, blk := range m.Blocks {
			switch blk.Type {
			case models.BlockText:
				content = append(content, anthropic.NewTextBlock(blk.Text))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(blk.ToolResultForID, blk.ToolResultText, blk.IsError))
			case models.BlockToolUse:
				var input map[string]any
				_ = json.Unmarshal(blk.ToolInput, &input)
				content = append(content, anthropic.NewToolUseBlock(blk.ToolUseID, input, blk.ToolName))
			case models.BlockThinking:
				if blk.Signature != "" {
					content = append(content, anthropic.NewThinkingBlock(blk.Signature, blk.Thinking))
				}
			}
		}
		if len(content) == 0 {
			continue
		}
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

func convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		if t.CacheControl == "ephemeral" {
			param.OfTool.CacheControl = anthropic.CacheControlEphemeralParam{Type: "ephemeral"}
		}
		out = append(out, param)
	}
	return out, nil
}

func messageFromResponse(resp *anthropic.Message, containerID string) *models.Message {
	var blocks []models.ContentBlock
	for _, blk := range resp.Content {
		switch v := blk.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, models.NewTextBlock(v.Text))
		case anthropic.ThinkingBlock:
			blocks = append(blocks, models.ContentBlock{Type: models.BlockThinking, Thinking: v.Thinking, Signature: v.Signature})
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(v.Input)
			blocks = append(blocks, models.NewToolUseBlock(v.ID, v.Name, input))
		}
	}
	return &models.Message{
		ID:        uuid.New(),
		Role:      models.RoleAssistant,
		Blocks:    blocks,
		CreatedAt: time.Now().UTC(),
		Assistant: &models.AssistantMetadata{ContainerID: containerID},
	}
}

// wrapError classifies a raw SDK error into an *llm.ProviderError, or
// returns a *llm.PermissionError / *llm.RateLimitError / *llm.ContextOverflowError
// for the cases §4.4 item 6 and item 7 treat specially.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401:
			return &llm.PermissionError{Provider: "anthropic", Cause: err}
		case 429:
			return &llm.RateLimitError{Provider: "anthropic", Cause: err}
		case 400:
			if llm.IsContextOverflowMessage(apiErr.Error()) {
				return &llm.ContextOverflowError{Provider: "anthropic"}
			}
		}
		pe := llm.NewProviderError("anthropic", model, err).WithStatus(apiErr.StatusCode).WithRequestID(apiErr.RequestID)
		return pe
	}

	return llm.NewProviderError("anthropic", model, err)
}
