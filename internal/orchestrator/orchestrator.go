// Package orchestrator implements the §4.10 continuum turn algorithm: the
// single process_message entry point that ties together the LLM provider,
// the trinket/working-memory composer, the memory relevance service, the
// tool executor, and the Unit of Work. Segment lifecycle (sentinel
// creation, collapse, postpone) lives in internal/segment and is driven
// by the caller independently of a turn. Grounded on the teacher's
// top-level request-handling flow for the shape of a single-entry-point
// orchestrator with injected collaborators, generalized from HTTP request
// handling to the turn algorithm this spec names.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/eventbus"
	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/memory"
	"github.com/mira-ai/mira/internal/memory/embeddings"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/observability"
	"github.com/mira-ai/mira/internal/streamevents"
	"github.com/mira-ai/mira/internal/tools"
	"github.com/mira-ai/mira/internal/trinket"
	"github.com/mira-ai/mira/internal/uow"
)

// notificationHUDDelimiter is the literal line §4.10 step 12 requires at
// the start of the notification-center assistant message.
const notificationHUDDelimiter = "=== NOTIFICATION CENTER ==="

// Config carries the per-process tuning knobs the turn algorithm needs,
// independent of internal/config so this package stays usable without it
// (cmd/mira populates this from the loaded Config).
type Config struct {
	ContextWindow        int
	ReservedOutputTokens int
	ThinkingBudget       int
	ThinkingEnabled      bool
	CachingEnabled       bool
	MaxTokens            int
	Temperature          float64

	DriftThresholdPct  int
	FallbackPruneCount int

	SegmentTimeoutMinutes int

	// JudgmentModel selects the cheap/fast model used for the tier-2 drift
	// judgment call. Empty uses the judgment provider's own default model.
	JudgmentModel string
}

func (c *Config) applyDefaults() {
	if c.ContextWindow == 0 {
		c.ContextWindow = 200000
	}
	if c.ReservedOutputTokens == 0 {
		c.ReservedOutputTokens = 8192
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.DriftThresholdPct == 0 {
		c.DriftThresholdPct = 35
	}
	if c.FallbackPruneCount == 0 {
		c.FallbackPruneCount = 6
	}
	if c.SegmentTimeoutMinutes == 0 {
		c.SegmentTimeoutMinutes = 60
	}
}

// Deps bundles every collaborator the orchestrator is built over. Fields
// left nil disable the feature they back (evacuator -> no tier-1
// remediation, pool -> no durable persistence, fingerprint -> required,
// must never be nil).
type Deps struct {
	Provider         llm.Provider
	Registry         *tools.Registry
	Executor         *tools.Executor
	Trinkets         *trinket.Core
	Relevance        *memory.RelevanceService
	Embedder         embeddings.Provider
	ContainerCache   memory.QueryCache
	Pool             *uow.Pool
	ContinuumRepo    *uow.ContinuumRepository
	Fingerprint      FingerprintGenerator
	Evacuator        MemoryEvacuator
	Bus              *eventbus.Bus
	Logger           *observability.Logger
	Metrics          *observability.Metrics
	JudgmentProvider llm.Provider
}

// Orchestrator drives process_message for one process. It is a process-wide
// singleton (§9): it owns no per-turn mutable state beyond the pendingTrims
// map, which is keyed by continuum id.
type Orchestrator struct {
	provider         llm.Provider
	registry         *tools.Registry
	executor         *tools.Executor
	trinkets         *trinket.Core
	relevance        *memory.RelevanceService
	embedder         embeddings.Provider
	containerCache   memory.QueryCache
	pool             *uow.Pool
	continuumRepo    *uow.ContinuumRepository
	fingerprint      FingerprintGenerator
	evacuator        MemoryEvacuator
	bus              *eventbus.Bus
	logger           *observability.Logger
	metrics          *observability.Metrics
	judgmentProvider llm.Provider
	judgmentModel    string

	cfg               Config
	driftThresholdPct int
	pendingTrims      *pendingTrims
}

// New builds an Orchestrator. fingerprint must not be nil; every turn
// requires it (§4.10 step 4: "Any failure raises — no degraded path").
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Fingerprint == nil {
		return nil, fmt.Errorf("orchestrator: a FingerprintGenerator is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("orchestrator: an llm.Provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.MustNewLogger(observability.LogConfig{})
	}
	cfg.applyDefaults()

	judgmentProvider := deps.JudgmentProvider
	if judgmentProvider == nil {
		judgmentProvider = deps.Provider
	}

	return &Orchestrator{
		provider:          deps.Provider,
		registry:          deps.Registry,
		executor:          deps.Executor,
		trinkets:          deps.Trinkets,
		relevance:         deps.Relevance,
		embedder:          deps.Embedder,
		containerCache:    deps.ContainerCache,
		pool:              deps.Pool,
		continuumRepo:     deps.ContinuumRepo,
		fingerprint:       deps.Fingerprint,
		evacuator:         deps.Evacuator,
		bus:               deps.Bus,
		logger:            deps.Logger,
		metrics:           deps.Metrics,
		judgmentProvider:  judgmentProvider,
		judgmentModel:     cfg.JudgmentModel,
		cfg:               cfg,
		driftThresholdPct: cfg.DriftThresholdPct,
		pendingTrims:      newPendingTrims(),
	}, nil
}

// TurnRequest is the input to ProcessMessage (§4.10 "Inputs").
type TurnRequest struct {
	Continuum      *models.Continuum
	UserMessage    models.Message // inference-tier content
	StorageContent *models.Message // storage-tier copy, required when UserMessage carries images
	BasePrompt     string
	Identity       string // ambient RLS identity, propagated to tool workers and the UoW
	SegmentTurnNumber int

	// internal, set only on the synthesized auto-continuation recursion.
	triedLoadingAllTools bool
}

// TurnResult is the output of one successful turn.
type TurnResult struct {
	Assistant          models.Message
	ToolsUsed          []string
	ReferencedMemories []uuid.UUID
	SurfacedMemories   []uuid.UUID
	ProcessingTime     time.Duration
}

// TurnCompletedEvent is published on the bus after the assistant message
// has been appended to the in-memory continuum but before the
// Unit-of-Work commit (§5 ordering guarantee).
type TurnCompletedEvent struct {
	ContinuumID       uuid.UUID
	TurnNumber        int
	SegmentTurnNumber int
	Continuum         *models.Continuum
}

// ProcessMessage runs one full turn of §4.10 against req.Continuum,
// forwarding stream events to onEvent as they occur. onEvent must not be
// nil; pass a no-op func if the caller doesn't need streaming.
func (o *Orchestrator) ProcessMessage(ctx context.Context, req *TurnRequest, onEvent func(streamevents.Event)) (*TurnResult, error) {
	start := time.Now()
	if onEvent == nil {
		onEvent = func(streamevents.Event) {}
	}
	if req == nil || req.Continuum == nil {
		return nil, NewValidationError("a continuum is required")
	}
	if err := validateUserMessage(req.UserMessage); err != nil {
		return nil, err
	}

	continuum := req.Continuum

	// Step 1: append the user message, publish domain events.
	appended, domainEvents := continuum.AddUserMessage(req.UserMessage)
	o.publishDomainEvents(domainEvents)

	// Step 2: derive text_for_context.
	userText := textForContext(appended)

	// Previous turn's surfaced memories, for fingerprint retention voting
	// and tier-1 evacuation pressure.
	previousMemories := previousSurfacedMemories(continuum)

	// Step 3: evacuation check is folded into the overflow loop (§4.11
	// tier 1) rather than a separate pre-flight call — the spec only
	// triggers it under overflow pressure.

	// Step 4: fingerprint + retention.
	fingerprintText, pinnedShortIDs, err := o.fingerprint.Generate(ctx, continuum, userText, previousMemories)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: fingerprint generation: %w", err)
	}

	// Step 5: pinned memories from the previous turn's surfaced set.
	pinned := pinnedMemoriesFromPrevious(previousMemories, pinnedShortIDs)

	// Steps 6-7: embed the fingerprint, run fresh hybrid retrieval.
	var fresh []models.MemoryRecord
	if o.relevance != nil {
		fresh, err = o.relevance.Search(ctx, memory.RelevanceQuery{Text: fingerprintText, Limit: 20})
		if err != nil {
			o.logger.Warn(ctx, "memory retrieval failed", "error", err)
			fresh = nil
		}
	}

	// Step 8: merge pinned + fresh.
	var merged []models.MemoryRecord
	if o.relevance != nil {
		merged = o.relevance.Merge(pinned, fresh)
	} else {
		merged = models.MergeMemories(pinned, fresh)
	}

	// Step 9: retrieval logging for offline evaluation.
	o.logger.Debug(ctx, "memory retrieval", "continuum_id", continuum.ID, "fingerprint", fingerprintText, "pinned", len(pinned), "fresh", len(fresh), "merged", len(merged))

	// Step 10-11: publish trinket update + compose, read back synchronously.
	if o.trinkets != nil {
		o.trinkets.PublishMemoryUpdate(merged)
	}
	composed := trinket.SystemPromptComposedEvent{}
	if o.trinkets != nil {
		composed = o.trinkets.Compose(req.BasePrompt)
	} else {
		composed.CachedContent = req.BasePrompt
	}

	// Step 12: build the message array.
	systemMsg := models.Message{
		Role: models.RoleSystem,
		Blocks: []models.ContentBlock{
			models.NewTextBlock(composed.CachedContent),
			models.NewTextBlock(composed.NonCachedContent),
		},
	}
	history := continuum.Messages[:len(continuum.Messages)-1]
	notificationMsg := models.NewAssistantMessage(
		[]models.ContentBlock{models.NewTextBlock(notificationHUDDelimiter + "\n" + composed.NotificationCenter)},
		nil,
	)
	messages := make([]models.Message, 0, len(history)+3)
	messages = append(messages, systemMsg)
	messages = append(messages, history...)
	messages = append(messages, notificationMsg, appended)

	// Step 13: apply any pending one-shot async trim.
	messages = applyPendingTrim(o.pendingTrims, continuum.ID, messages)

	toolDefs := o.toolDefinitions()
	containerID := o.resolveContainerID(ctx, continuum.ID, toolDefs)

	// Step 14: overflow loop.
	response, err := o.runOverflowLoop(ctx, continuum.ID, &messages, toolDefs, containerID, previousMemories, onEvent)
	if err != nil {
		return nil, err
	}

	// Step 15: parse tags, resolve short ids, apply the model-error apology.
	replyText := response.Text()
	tags := parseResponseTags(replyText)
	referenced := resolveShortIDs(tags.ReferencedShortIDs, merged)
	pinnedIDs := resolveShortIDs(tags.PinnedShortIDs, merged)
	surfacedIDs := make([]uuid.UUID, 0, len(merged))
	for _, m := range merged {
		surfacedIDs = append(surfacedIDs, m.ID)
	}

	modelError := false
	if strings.TrimSpace(replyText) == "" {
		replyText = modelErrorApology
		modelError = true
		response = &models.Message{Role: models.RoleAssistant, Blocks: []models.ContentBlock{models.NewTextBlock(replyText)}}
	}

	meta := &models.AssistantMetadata{
		ReferencedMemories: referenced,
		SurfacedMemories:   surfacedIDs,
		Emotion:            tags.Emotion,
		ModelError:         modelError,
	}
	if len(pinnedIDs) > 0 {
		meta.PinnedMemoryIDs = shortIDStrings(tags.PinnedShortIDs)
	}
	if containerID != "" {
		meta.ContainerID = containerID
	}

	assistantMsg := models.NewAssistantMessage(response.Blocks, meta)

	// Step 16: append to the continuum, publish TurnCompletedEvent.
	assistantMsg, domainEvents = continuum.AddAssistantMessage(assistantMsg)
	o.publishDomainEvents(domainEvents)
	if o.bus != nil {
		o.bus.Publish("TurnCompletedEvent", TurnCompletedEvent{
			ContinuumID:       continuum.ID,
			TurnNumber:        continuum.TurnCount,
			SegmentTurnNumber: req.SegmentTurnNumber,
			Continuum:         continuum,
		})
	}

	// Step 17: persist via the Unit of Work.
	storageUser := appended
	if req.StorageContent != nil {
		storageUser = *req.StorageContent
	}
	if err := o.commitTurn(ctx, continuum, req.Identity, storageUser, assistantMsg); err != nil {
		return nil, err
	}

	toolsUsed := toolNamesUsed(messages, response)
	continuationMode, continuationTriggered := autoContinuationMode(response)

	// Step 19: container caching.
	if containerID != "" {
		o.cacheContainerID(ctx, continuum.ID, containerID)
	}

	result := &TurnResult{
		Assistant:          assistantMsg,
		ToolsUsed:          toolsUsed,
		ReferencedMemories: referenced,
		SurfacedMemories:   surfacedIDs,
		ProcessingTime:     time.Since(start),
	}

	// Step 18: auto-continuation.
	if !req.triedLoadingAllTools && continuationTriggered {
		o.logger.Info(ctx, "auto-continuation triggered", "continuum_id", continuum.ID, "mode", continuationMode)
		followUp := TurnRequest{
			Continuum:            continuum,
			UserMessage:          models.NewUserMessage("Great, the tool is now available. Please proceed with the original request."),
			BasePrompt:           req.BasePrompt,
			Identity:             req.Identity,
			SegmentTurnNumber:    req.SegmentTurnNumber,
			triedLoadingAllTools: true,
		}
		return o.ProcessMessage(ctx, &followUp, onEvent)
	}

	return result, nil
}

func validateUserMessage(msg models.Message) error {
	if len(msg.Blocks) == 0 {
		return NewValidationError("message content is empty")
	}
	if strings.TrimSpace(msg.Text()) == "" && len(msg.ToolUseBlocks()) == 0 {
		hasNonText := false
		for _, b := range msg.Blocks {
			if b.Type != models.BlockText {
				hasNonText = true
				break
			}
		}
		if !hasNonText {
			return NewValidationError("message content is whitespace-only")
		}
	}
	return nil
}

func textForContext(msg models.Message) string {
	if text := strings.TrimSpace(msg.Text()); text != "" {
		return text
	}
	for _, b := range msg.Blocks {
		if b.Type == models.BlockImage {
			return "Image uploaded"
		}
	}
	return "Image uploaded"
}

// previousSurfacedMemories finds the most recent assistant message's
// surfaced-memory id set and reconstructs MemoryRecord stubs carrying just
// the id — the fingerprint generator only needs text for its prompt, which
// isn't persisted per-id, so this is deliberately a thin id-only view. The
// relevance service's own Merge operates on whatever the trinket last held,
// not on this reconstruction; see DESIGN.md.
func previousSurfacedMemories(c *models.Continuum) []models.MemoryRecord {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Role != models.RoleAssistant || m.Assistant == nil {
			continue
		}
		if len(m.Assistant.SurfacedMemories) == 0 {
			continue
		}
		out := make([]models.MemoryRecord, 0, len(m.Assistant.SurfacedMemories))
		for _, id := range m.Assistant.SurfacedMemories {
			out = append(out, models.MemoryRecord{ID: id})
		}
		return out
	}
	return nil
}

func (o *Orchestrator) toolDefinitions() []models.ToolDefinition {
	if o.registry == nil {
		return nil
	}
	return o.registry.Definitions()
}

func (o *Orchestrator) publishDomainEvents(events []models.DomainEvent) {
	if o.bus == nil {
		return
	}
	for _, e := range events {
		o.bus.Publish(e.Name, e.Payload)
	}
}

func shortIDStrings(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func toolNamesUsed(messages []models.Message, final *models.Message) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range messages {
		for _, blk := range m.ToolUseBlocks() {
			if !seen[blk.ToolName] {
				seen[blk.ToolName] = true
				names = append(names, blk.ToolName)
			}
		}
	}
	if final != nil {
		for _, blk := range final.ToolUseBlocks() {
			if !seen[blk.ToolName] {
				seen[blk.ToolName] = true
				names = append(names, blk.ToolName)
			}
		}
	}
	return names
}

// autoContinuationMode implements §4.10 step 18: it fires when the final
// response carries an llm.InvokeOtherToolName call whose `mode` input is
// one of load, fallback, or prepare_code_execution.
func autoContinuationMode(response *models.Message) (string, bool) {
	if response == nil {
		return "", false
	}
	for _, blk := range response.ToolUseBlocks() {
		if blk.ToolName != llm.InvokeOtherToolName {
			continue
		}
		var payload struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(blk.ToolInput, &payload); err != nil {
			continue
		}
		switch payload.Mode {
		case "load", "fallback", "prepare_code_execution":
			return payload.Mode, true
		}
	}
	return "", false
}
