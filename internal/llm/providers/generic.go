package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

// GenericConfig configures a GenericProvider against any OpenAI-compatible
// chat-completions endpoint.
type GenericConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Failover     *llm.Failover
}

// GenericProvider implements llm.Provider against the OpenAI chat-completions
// wire format, the lowest common denominator every self-hosted and
// third-party model gateway speaks (§4.5).
type GenericProvider struct {
	client       *openai.Client
	apiKey       string
	defaultModel string
	failover     *llm.Failover
}

// NewGenericProvider builds a GenericProvider. cfg.BaseURL overrides the
// endpoint, matching req.EndpointURL routing in §4.4 item 5.
func NewGenericProvider(cfg GenericConfig) (*GenericProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("generic: API key is required")
	}
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	return &GenericProvider{
		client:       openai.NewClientWithConfig(oaiCfg),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		failover:     cfg.Failover,
	}, nil
}

// clientFor returns the base client, unless endpointURL is set (a
// FailoverProvider reroute), in which case it builds a one-off client
// against that endpoint reusing the same API key.
func (p *GenericProvider) clientFor(endpointURL string) *openai.Client {
	if strings.TrimSpace(endpointURL) == "" {
		return p.client
	}
	oaiCfg := openai.DefaultConfig(p.apiKey)
	oaiCfg.BaseURL = endpointURL
	return openai.NewClientWithConfig(oaiCfg)
}

// Name identifies this provider for logging and event metadata.
func (p *GenericProvider) Name() string { return "generic" }

// GenerateResponse drives one turn against an OpenAI-compatible endpoint,
// translating native message/tool/thinking shapes to and from the wire
// format and running the shared tool loop on top.
func (p *GenericProvider) GenerateResponse(ctx context.Context, req *llm.Request, onEvent func(streamevents.Event)) (*models.Message, error) {
	if onEvent == nil {
		onEvent = func(streamevents.Event) {}
	}

	model := req.ModelOverride
	if model == "" {
		model = p.defaultModel
	}

	system, _, rest := llm.PrepareSystemPrompt(req.Messages, false)
	tools := req.Tools
	client := p.clientFor(req.EndpointURL)

	callModel := func(ctx context.Context, messages []models.Message, toolsDisabled bool) (*models.Message, error) {
		activeTools := tools
		if toolsDisabled {
			activeTools = nil
		}
		return llm.WithUpstreamRetry(ctx, onEvent, func() (*models.Message, error) {
			msg, err := p.call(ctx, client, model, system, messages, activeTools, req, onEvent)
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

	final, err := llm.RunToolLoop(ctx, first, rest, req.Registry, toolDef, onEvent, callModel)
	if err != nil {
		onEvent(streamevents.Error(err, err.Error()))
		return nil, err
	}
	onEvent(streamevents.Complete(final))
	return final, nil
}

func (p *GenericProvider) call(
	ctx context.Context,
	client *openai.Client,
	model, system string,
	messages []models.Message,
	tools []models.ToolDefinition,
	req *llm.Request,
	onEvent func(streamevents.Event),
) (*models.Message, error) {
	oaiMessages := convertMessagesToOpenAI(messages, system)

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: oaiMessages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = llm.ClampMaxTokens(model, req.MaxTokens)
	}
	if len(tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(tools)
	}

	if !req.Stream {
		resp, err := client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("generic: empty completion response")
		}
		return messageFromOpenAIChoice(resp.Choices[0], req.ContainerID), nil
	}

	chatReq.Stream = true
	stream, err := client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return p.consumeStream(stream, req.ContainerID, onEvent)
}

func (p *GenericProvider) consumeStream(stream *openai.ChatCompletionStream, containerID string, onEvent func(streamevents.Event)) (*models.Message, error) {
	var text strings.Builder
	toolCalls := map[int]*models.ToolCall{}
	toolOrder := []int{}
	finishReason := ""

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			onEvent(streamevents.Text(choice.Delta.Content))
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			cur, ok := toolCalls[idx]
			if !ok {
				cur = &models.ToolCall{}
				toolCalls[idx] = cur
				toolOrder = append(toolOrder, idx)
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Name = tc.Function.Name
				onEvent(streamevents.ToolDetected(cur.Name, cur.ID))
			}
			if tc.Function.Arguments != "" {
				cur.Input = append(cur.Input, []byte(tc.Function.Arguments)...)
			}
		}
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
	}

	blocks := []models.ContentBlock{}
	if text.Len() > 0 {
		blocks = append(blocks, models.NewTextBlock(text.String()))
	}
	for _, idx := range toolOrder {
		tc := toolCalls[idx]
		if tc.ID == "" || tc.Name == "" {
			continue
		}
		input := tc.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		blocks = append(blocks, models.NewToolUseBlock(tc.ID, tc.Name, input))
	}

	meta := &models.AssistantMetadata{ContainerID: containerID}
	if mapStopReason(finishReason) == "max_tokens" {
		meta.ModelError = true
	}
	return &models.Message{
		Role:      models.RoleAssistant,
		Blocks:    blocks,
		Assistant: meta,
	}, nil
}

// mapStopReason applies §4.5's stop_reason mapping: stop→end_turn,
// tool_calls→tool_use, length→max_tokens.
func mapStopReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return reason
	}
}

func convertMessagesToOpenAI(messages []models.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range messages {
		switch m.Role {
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text()}
			for _, blk := range m.ToolUseBlocks() {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   blk.ToolUseID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      blk.ToolName,
						Arguments: string(blk.ToolInput),
					},
				})
			}
			out = append(out, msg)

		case models.RoleUser:
			results := m.ToolResultBlocks()
			if len(results) > 0 {
				for _, r := range results {
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    stripContainerUploadNote(r.ToolResultText),
						ToolCallID: r.ToolResultForID,
					})
				}
				continue
			}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text()})

		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Text()})
		}
	}
	return out
}

// stripContainerUploadNote replaces a container_upload reference with a
// plain-text warning, since the OpenAI-compatible wire format has no
// concept of a code-execution container artifact (§4.5).
func stripContainerUploadNote(text string) string {
	if strings.Contains(text, "container_upload") {
		return "[file artifact omitted: not supported on this endpoint]"
	}
	return text
}

func convertToolsToOpenAI(tools []models.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

func messageFromOpenAIChoice(choice openai.ChatCompletionChoice, containerID string) *models.Message {
	var blocks []models.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, models.NewTextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		blocks = append(blocks, models.NewToolUseBlock(tc.ID, tc.Function.Name, input))
	}
	return &models.Message{
		Role:      models.RoleAssistant,
		Blocks:    blocks,
		Assistant: &models.AssistantMetadata{ContainerID: containerID},
	}
}

func (p *GenericProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401:
			return &llm.PermissionError{Provider: "generic", Cause: err}
		case 429:
			return &llm.RateLimitError{Provider: "generic", Cause: err}
		case 400:
			if llm.IsContextOverflowMessage(apiErr.Message) {
				return &llm.ContextOverflowError{Provider: "generic"}
			}
		}
		pe := llm.NewProviderError("generic", model, err).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Code != nil {
			if code, ok := apiErr.Code.(string); ok {
				pe = pe.WithCode(code)
			}
		}
		return pe
	}
	return llm.NewProviderError("generic", model, err)
}
