package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

const containerCacheTTL = time.Hour

func containerCacheKey(continuumID uuid.UUID) string {
	return fmt.Sprintf("container:%s", continuumID)
}

// resolveContainerID looks up a cached code-execution container id for this
// continuum, but only when the code execution tool is actually enabled for
// this turn — an orphaned container id sent to a provider that has no such
// tool registered is a protocol error.
func (o *Orchestrator) resolveContainerID(ctx context.Context, continuumID uuid.UUID, tools []models.ToolDefinition) string {
	if o.containerCache == nil || !hasCodeExecutionTool(tools) {
		return ""
	}
	raw, ok, err := o.containerCache.Get(ctx, containerCacheKey(continuumID))
	if err != nil || !ok {
		return ""
	}
	return string(raw)
}

func (o *Orchestrator) cacheContainerID(ctx context.Context, continuumID uuid.UUID, id string) {
	if o.containerCache == nil || id == "" {
		return
	}
	_ = o.containerCache.SetWithTTL(ctx, containerCacheKey(continuumID), []byte(id), containerCacheTTL)
}

func hasCodeExecutionTool(tools []models.ToolDefinition) bool {
	for _, t := range tools {
		if t.Name == "code_execution" {
			return true
		}
	}
	return false
}

// runOverflowLoop implements §4.10 step 14: up to maxOverflowAttempts calls
// to the provider, proactively estimating tokens before each and applying
// the matching remediation tier when the estimate would exceed the usable
// context window.
func (o *Orchestrator) runOverflowLoop(
	ctx context.Context,
	continuumID uuid.UUID,
	messages *[]models.Message,
	toolDefs []models.ToolDefinition,
	containerID string,
	previousMemories []models.MemoryRecord,
	onEvent func(streamevents.Event),
) (*models.Message, error) {
	usable := o.cfg.ContextWindow - o.cfg.ReservedOutputTokens

	// lastActualInputTokens is always unknown here: the Provider interface
	// returns only the assembled assistant message, not per-call usage, so
	// every estimate falls back to the chars/4 heuristic (§4.10 step 14).
	for attempt := 1; attempt <= maxOverflowAttempts; attempt++ {
		estimate := estimateTokens(*messages, len(toolDefs), 0)
		if estimate > usable {
			remediated, result, err := o.remediate(ctx, continuumID, attempt, *messages, previousMemories, o.cfg.FallbackPruneCount)
			if err != nil {
				return nil, err
			}
			o.logger.Info(ctx, "context overflow remediation applied",
				"continuum_id", continuumID, "tier", result.Tier,
				"messages_before", result.MessagesBefore, "messages_after", result.MessagesAfter,
				"selection_method", result.SelectionMethod)
			*messages = remediated
			continue
		}

		req := &llm.Request{
			Messages:        *messages,
			Tools:           toolDefs,
			Registry:        o.executor,
			ContainerID:     containerID,
			CachingEnabled:  o.cfg.CachingEnabled,
			ThinkingEnabled: o.cfg.ThinkingEnabled,
			ThinkingBudget:  o.cfg.ThinkingBudget,
			MaxTokens:       o.cfg.MaxTokens,
			Temperature:     o.cfg.Temperature,
			Stream:          true,
		}
		callStart := time.Now()
		resp, err := o.provider.GenerateResponse(ctx, req, onEvent)
		duration := time.Since(callStart).Seconds()
		if err != nil {
			if o.metrics != nil {
				o.metrics.RecordLLMRequest(o.provider.Name(), "", "error", duration, estimate, 0)
				o.metrics.RecordError("orchestrator", "llm_generate")
			}
			return nil, fmt.Errorf("orchestrator: generate response: %w", err)
		}
		if o.metrics != nil {
			o.metrics.RecordLLMRequest(o.provider.Name(), "", "success", duration, estimate, 0)
			o.metrics.RecordContextWindow(o.provider.Name(), "", estimate)
		}
		return resp, nil
	}

	return nil, NewContextOverflowError("context overflow persisted past the remediation ceiling")
}

// commitTurn persists the turn's storage-tier messages and incremented
// turn count through a single Unit of Work, scoped to identity for RLS.
func (o *Orchestrator) commitTurn(ctx context.Context, continuum *models.Continuum, identity string, userMsg, assistantMsg models.Message) error {
	if o.pool == nil || o.continuumRepo == nil {
		return nil
	}
	u, err := o.pool.Begin(ctx, identity)
	if err != nil {
		return fmt.Errorf("orchestrator: begin unit of work: %w", err)
	}
	defer u.Rollback(ctx)

	if err := o.continuumRepo.EnsureContinuum(ctx, u, continuum.ID, continuum.UserID); err != nil {
		return err
	}
	if err := o.continuumRepo.AppendMessages(ctx, u, continuum.ID, continuum.UserID, []models.Message{userMsg, assistantMsg}); err != nil {
		return err
	}
	if err := o.continuumRepo.SetTurnCount(ctx, u, continuum.ID, continuum.TurnCount); err != nil {
		return err
	}
	if err := u.Commit(ctx); err != nil {
		return fmt.Errorf("orchestrator: commit unit of work: %w", err)
	}
	return nil
}
