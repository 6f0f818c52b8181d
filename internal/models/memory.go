package models

import (
	"time"

	"github.com/google/uuid"
)

// MemoryRecord is a read-only surfaced long-term memory, as returned by the
// Memory Relevance Service. The core traverses LinkedMemories but never
// mutates a record.
type MemoryRecord struct {
	ID              uuid.UUID  `json:"id"`
	Text            string     `json:"text"`
	ImportanceScore float64    `json:"importance_score"`
	Confidence      float64    `json:"confidence,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	HappensAt       *time.Time `json:"happens_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	AccessCount     int        `json:"access_count,omitempty"`
	IsRefined       bool       `json:"is_refined,omitempty"`
	LinkedMemories  []uuid.UUID `json:"linked_memories,omitempty"`

	// Score is the relevance-service hybrid score used for ranking and
	// clustering; it is not persisted, only computed per-query.
	Score float64 `json:"-"`
}

// ShortID returns the first 8 hex characters of the record's UUID, the form
// the model sees and votes retention against.
func (r MemoryRecord) ShortID() string {
	s := r.ID.String()
	// UUID string form has dashes; strip them before truncating so the
	// short id is 8 hex characters of entropy, not hyphen-padded.
	hex := make([]byte, 0, 32)
	for _, c := range s {
		if c != '-' {
			hex = append(hex, byte(c))
		}
	}
	if len(hex) < 8 {
		return string(hex)
	}
	return string(hex[:8])
}

// ConfidenceTier buckets a record's confidence for downstream display only;
// the orchestrator itself never branches on it.
func (r MemoryRecord) ConfidenceTier() string {
	switch {
	case r.Confidence >= 0.7:
		return "high_confidence"
	case r.Confidence >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// MergeMemories merges pinned memories first (deduplicated by id), then
// fresh memories whose id is not already present. Relative order within
// each group is preserved.
func MergeMemories(pinned, fresh []MemoryRecord) []MemoryRecord {
	seen := make(map[uuid.UUID]bool, len(pinned)+len(fresh))
	merged := make([]MemoryRecord, 0, len(pinned)+len(fresh))
	for _, m := range pinned {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	for _, m := range fresh {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	return merged
}

// EntityWeight is the fixed table used to boost memory scores when a query
// carries a matching entity.
var EntityWeight = map[string]float64{
	"PERSON": 1.0,
	"EVENT":  0.9,
	"ORG":    0.8,
}

// DefaultEntityWeight is used for entity kinds absent from EntityWeight.
const DefaultEntityWeight = 0.5

// WeightForEntity looks up the fixed entity weight table, falling back to
// DefaultEntityWeight.
func WeightForEntity(kind string) float64 {
	if w, ok := EntityWeight[kind]; ok {
		return w
	}
	return DefaultEntityWeight
}
