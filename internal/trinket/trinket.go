// Package trinket implements the pluggable working-memory contributors
// ("trinkets"), the three-zone Prompt Composer they feed, and the Working
// Memory Core that wires both to the event bus (§4.7-4.9).
package trinket

import (
	"context"
	"time"

	"github.com/mira-ai/mira/internal/eventbus"
)

// Event bus topics used by the trinket subsystem. Trinkets and the Working
// Memory Core communicate exclusively through these — never by holding
// direct references to one another (§9 cyclic-relationship note).
const (
	TopicComposeSystemPrompt = "compose_system_prompt"
	TopicUpdateTrinket       = "update_trinket"
	TopicTrinketContent      = "trinket_content"
	TopicSystemPromptReady   = "system_prompt_composed"
)

// Placement selects which composed bucket a section lands in.
type Placement string

const (
	PlacementSystem       Placement = "system"
	PlacementNotification Placement = "notification"
)

// Well-known section names, in the fixed display order §3 requires.
const (
	SectionBasePrompt            = "base_prompt"
	SectionDomainDoc             = "domaindoc"
	SectionToolGuidance          = "tool_guidance"
	SectionToolHints             = "tool_hints"
	SectionDatetime              = "datetime_section"
	SectionConversationManifest  = "conversation_manifest"
	SectionActiveReminders       = "active_reminders"
	SectionContextSearchResults  = "context_search_results"
	SectionRelevantMemories      = "relevant_memories"
)

// DisplayOrder is the fixed configured order Compose() walks.
var DisplayOrder = []string{
	SectionBasePrompt,
	SectionDomainDoc,
	SectionToolGuidance,
	SectionToolHints,
	SectionDatetime,
	SectionConversationManifest,
	SectionActiveReminders,
	SectionContextSearchResults,
	SectionRelevantMemories,
}

// notificationSections is the fixed set of trinkets placed in the
// notification center rather than the system prompt (§4.7).
var notificationSections = map[string]bool{
	SectionDatetime:             true,
	SectionConversationManifest: true,
	SectionActiveReminders:      true,
	SectionContextSearchResults: true,
	SectionRelevantMemories:     true,
}

// PlacementFor returns the fixed placement for a well-known section name.
func PlacementFor(name string) Placement {
	if notificationSections[name] {
		return PlacementNotification
	}
	return PlacementSystem
}

// UpdateTrinketEvent asks one (or, with an empty Target, every) trinket to
// regenerate its section from context.
type UpdateTrinketEvent struct {
	Target  string
	Context map[string]any
}

// TrinketContentEvent is published by a trinket after a non-empty
// generate_content, and consumed by the Prompt Composer.
type TrinketContentEvent struct {
	VariableName string
	Content      string
	TrinketName  string
	CachePolicy  bool
	Placement    Placement
}

// ComposeSystemPromptEvent kicks off one working-memory compose pass.
type ComposeSystemPromptEvent struct {
	BasePrompt string
}

// SystemPromptComposedEvent carries the three finished zones back to the
// orchestrator.
type SystemPromptComposedEvent struct {
	CachedContent      string
	NonCachedContent   string
	NotificationCenter string
}

// KVMirror is the subset of the KV store a Trinket needs to mirror its
// section state for out-of-band inspection (§4.7 step 3).
type KVMirror interface {
	HSet(ctx context.Context, key, field string, value any) error
}

// SectionState is what gets mirrored into the per-user hash, field =
// variable name.
type SectionState struct {
	Content     string    `json:"content"`
	CachePolicy bool      `json:"cache_policy"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Trinket is anything that responds to an UpdateTrinketEvent targeting its
// Name() by producing a string section.
type Trinket interface {
	// Name identifies this trinket; must match the well-known section name
	// it contributes, and the Target field trinkets are addressed by.
	Name() string
	// CachePolicy reports whether this trinket's section should land in the
	// composer's cached bucket.
	CachePolicy() bool
	// GenerateContent produces the section body for the given context, or
	// an empty string to contribute nothing this round.
	GenerateContent(ctx context.Context, trinketCtx map[string]any) (string, error)
}

// Base wires the common OnUpdate dance (§4.7 steps 1-3) around a concrete
// Trinket's GenerateContent. Embed it, or call Base.HandleUpdate directly
// from a Subscribe callback.
type Base struct {
	Bus   *eventbus.Bus
	KV    KVMirror
	KVKey func() string // per-user hash key, resolved lazily (identity is ambient)
}

// HandleUpdate implements §4.7: generate, publish if non-empty, mirror to
// KV regardless of publish outcome being observed by anyone.
func (b Base) HandleUpdate(ctx context.Context, t Trinket, trinketCtx map[string]any) {
	content, err := t.GenerateContent(ctx, trinketCtx)
	if err != nil || content == "" {
		return
	}

	placement := PlacementFor(t.Name())
	b.Bus.Publish(TopicTrinketContent, TrinketContentEvent{
		VariableName: t.Name(),
		Content:      content,
		TrinketName:  t.Name(),
		CachePolicy:  t.CachePolicy(),
		Placement:    placement,
	})

	if b.KV != nil && b.KVKey != nil {
		_ = b.KV.HSet(ctx, b.KVKey(), t.Name(), SectionState{
			Content:     content,
			CachePolicy: t.CachePolicy(),
			UpdatedAt:   time.Now().UTC(),
		})
	}
}
