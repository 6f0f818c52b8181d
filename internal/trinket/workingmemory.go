package trinket

import (
	"context"
	"strings"
	"sync"

	"github.com/mira-ai/mira/internal/eventbus"
	"github.com/mira-ai/mira/internal/segment"
)

// theUserPlaceholder is the literal base-prompt placeholder substituted with
// the resolved first name (§4.9 step 1).
const theUserPlaceholder = "The User"

// Core owns the trinket registry and the Composer, subscribing to the three
// working-memory events on the bus (§4.9). It holds no direct reference to
// any Trinket's internals beyond the registry map — all content flows
// through TrinketContentEvent.
type Core struct {
	bus      *eventbus.Bus
	composer *Composer

	mu       sync.RWMutex
	trinkets map[string]Trinket

	// FirstName resolves the ambient user's first name for base-prompt
	// substitution. Nil means no substitution is performed.
	FirstName func(ctx context.Context) string

	lastComposed SystemPromptComposedEvent
	composedMu   sync.Mutex
}

// NewCore builds a Core wired to bus, subscribing its three handlers.
func NewCore(bus *eventbus.Bus) *Core {
	c := &Core{
		bus:      bus,
		composer: NewComposer(),
		trinkets: make(map[string]Trinket),
	}
	bus.Subscribe(TopicComposeSystemPrompt, c.onCompose)
	bus.Subscribe(TopicUpdateTrinket, c.onUpdateTrinket)
	bus.Subscribe(TopicTrinketContent, c.onTrinketContent)
	return c
}

// Register adds a trinket to the fan-out set. Safe to call at any time;
// newly registered trinkets receive the next UpdateTrinketEvent broadcast.
func (c *Core) Register(t Trinket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trinkets[t.Name()] = t
}

// onUpdateTrinket drives one trinket (or, with an empty Target, none —
// broadcast fan-out happens only from onCompose's own loop) through its
// generate/publish/mirror cycle.
func (c *Core) onUpdateTrinket(payload any) {
	evt, ok := payload.(UpdateTrinketEvent)
	if !ok {
		return
	}
	c.mu.RLock()
	t, found := c.trinkets[evt.Target]
	c.mu.RUnlock()
	if !found {
		return
	}
	base := Base{Bus: c.bus}
	base.HandleUpdate(context.Background(), t, evt.Context)
}

// onTrinketContent feeds a published section straight into the composer.
func (c *Core) onTrinketContent(payload any) {
	evt, ok := payload.(TrinketContentEvent)
	if !ok {
		return
	}
	c.composer.AddSection(evt.VariableName, evt.Content, evt.CachePolicy, evt.Placement)
}

// onCompose implements §4.9 steps 1-5.
func (c *Core) onCompose(payload any) {
	evt, ok := payload.(ComposeSystemPromptEvent)
	if !ok {
		return
	}

	base := evt.BasePrompt
	if c.FirstName != nil {
		if name := c.FirstName(context.Background()); name != "" {
			base = strings.ReplaceAll(base, theUserPlaceholder, name)
		}
	}

	c.composer.ClearNonBase()
	c.composer.SetBasePrompt(base)

	c.mu.RLock()
	targets := make([]Trinket, 0, len(c.trinkets))
	for _, t := range c.trinkets {
		targets = append(targets, t)
	}
	c.mu.RUnlock()

	baseHandler := Base{Bus: c.bus}
	for _, t := range targets {
		baseHandler.HandleUpdate(context.Background(), t, nil)
	}

	composed := c.composer.Compose()
	c.composedMu.Lock()
	c.lastComposed = composed
	c.composedMu.Unlock()

	c.bus.Publish(TopicSystemPromptReady, composed)
}

// Compose runs one full compose pass synchronously (publish + the handlers
// it triggers all complete before this returns, since eventbus.Bus is
// synchronous) and returns the result directly, sparing the orchestrator a
// second subscription just to read back its own request.
func (c *Core) Compose(basePrompt string) SystemPromptComposedEvent {
	c.bus.Publish(TopicComposeSystemPrompt, ComposeSystemPromptEvent{BasePrompt: basePrompt})
	c.composedMu.Lock()
	defer c.composedMu.Unlock()
	return c.lastComposed
}

// PublishMemoryUpdate is the orchestrator's step 10 call: push merged
// memories to the relevant_memories section ahead of the next compose pass.
func (c *Core) PublishMemoryUpdate(memories any) {
	c.bus.Publish(TopicUpdateTrinket, UpdateTrinketEvent{
		Target:  SectionRelevantMemories,
		Context: map[string]any{"memories": memories},
	})
}

// PublishManifestUpdate pushes the current segment manifest listing to the
// conversation_manifest section ahead of the next compose pass (§4.13).
func (c *Core) PublishManifestUpdate(entries []segment.ManifestEntry) {
	c.bus.Publish(TopicUpdateTrinket, UpdateTrinketEvent{
		Target:  SectionConversationManifest,
		Context: map[string]any{"entries": entries},
	})
}
