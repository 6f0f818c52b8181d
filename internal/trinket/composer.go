package trinket

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const sectionSeparator = "\n\n---\n\n"

const notificationHeader = "=== NOTIFICATION CENTER ===\nThe following is ambient context, not part of the conversation history:"
const notificationFooter = "=== END NOTIFICATION CENTER ==="

const scaffoldingNote = "The text above is your base system prompt; everything that follows is additional working-memory context assembled for this turn."

var collapseNewlines = regexp.MustCompile(`\n{3,}`)

// section is one composer-held entry.
type section struct {
	content     string
	cachePolicy bool
	placement   Placement
}

// Composer holds at most one section per well-known name and assembles the
// three-zone prompt (§4.8).
type Composer struct {
	mu       sync.Mutex
	sections map[string]section
}

// NewComposer returns an empty Composer.
func NewComposer() *Composer {
	return &Composer{sections: make(map[string]section)}
}

// SetBasePrompt wraps text with a visible delimiter and scaffolding note and
// stores it as the base_prompt system section, cache_policy=true.
func (c *Composer) SetBasePrompt(text string) {
	wrapped := fmt.Sprintf("=== BASE PROMPT ===\n%s\n%s", text, scaffoldingNote)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sections[SectionBasePrompt] = section{content: wrapped, cachePolicy: true, placement: PlacementSystem}
}

// AddSection sets (or clears, if content is empty — a no-op) a named
// section.
func (c *Composer) AddSection(name, content string, cachePolicy bool, placement Placement) {
	if content == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sections[name] = section{content: content, cachePolicy: cachePolicy, placement: placement}
}

// ClearNonBase removes every section except base_prompt, so a fresh compose
// pass starts from only what this turn's trinkets actually produce.
func (c *Composer) ClearNonBase() {
	c.mu.Lock()
	defer c.mu.Unlock()
	base, ok := c.sections[SectionBasePrompt]
	c.sections = make(map[string]section)
	if ok {
		c.sections[SectionBasePrompt] = base
	}
}

// Compose walks DisplayOrder, partitioning non-empty sections into the
// three buckets described in §4.8.
func (c *Composer) Compose() SystemPromptComposedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cached, nonCached, notification []string
	for _, name := range DisplayOrder {
		s, ok := c.sections[name]
		if !ok || s.content == "" {
			continue
		}
		switch {
		case s.placement == PlacementSystem && s.cachePolicy:
			cached = append(cached, s.content)
		case s.placement == PlacementSystem:
			nonCached = append(nonCached, s.content)
		case s.placement == PlacementNotification:
			notification = append(notification, s.content)
		}
	}

	notifBody := joinAndCollapse(notification)
	if notifBody != "" {
		notifBody = notificationHeader + "\n\n" + notifBody + "\n\n" + notificationFooter
	}

	return SystemPromptComposedEvent{
		CachedContent:      joinAndCollapse(cached),
		NonCachedContent:   joinAndCollapse(nonCached),
		NotificationCenter: notifBody,
	}
}

func joinAndCollapse(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	joined := strings.Join(parts, sectionSeparator)
	return collapseNewlines.ReplaceAllString(joined, "\n\n")
}
