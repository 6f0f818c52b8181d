package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mira-ai/mira/internal/memory/backend"
	"github.com/mira-ai/mira/internal/memory/embeddings"
	"github.com/mira-ai/mira/internal/models"
	pkgmodels "github.com/mira-ai/mira/pkg/models"
)

// Relevance-service weighting (§4.12): hybrid vector+BM25 search weighted
// 0.6/0.4, entity boost coefficient 0.15 per match capped at +0.3, fuzzy
// entity-match similarity threshold 0.85.
const (
	vectorWeight          = 0.6
	entityBoostPerMatch   = 0.15
	entityBoostCap        = 0.3
	entityFuzzyThreshold  = 0.85
	clusterScoreBand      = 0.15
	clusterMaxResults     = 4
	clusterDefaultResults = 2
)

// QueryEntity is one caller-supplied entity used to prime the query (§4.12
// entity query-priming).
type QueryEntity struct {
	Text string
	Kind string
}

// RelevanceQuery is the input to the Relevance Service's Search.
type RelevanceQuery struct {
	Text      string
	Scope     pkgmodels.MemoryScope
	ScopeID   string
	Limit     int
	Entities  []QueryEntity
	Filters   map[string]any
}

// RelevanceService implements the §4.12 hybrid retrieval + entity boost +
// merge. It is grounded on the teacher's Manager.Search and
// SearchHierarchical (internal/memory/manager.go, internal/memory/hierarchy.go)
// but targets MIRA's own MemoryRecord shape rather than the teacher's
// pkg/models.SearchResult, and adds the entity-boost and pin-merge steps
// the teacher never had.
type RelevanceService struct {
	backend  backend.Backend
	embedder embeddings.Provider
	cache    *EmbeddingCache
}

// NewRelevanceService builds a Relevance Service over an already-configured
// backend and embedder, with optional KV-backed embedding caching (a nil
// cache just always misses).
func NewRelevanceService(b backend.Backend, embedder embeddings.Provider, cache *EmbeddingCache) *RelevanceService {
	if cache == nil {
		cache = NewEmbeddingCache(nil)
	}
	return &RelevanceService{backend: b, embedder: embedder, cache: cache}
}

// Search runs the hybrid vector+BM25 query, applies entity-query-priming
// boosts, and returns records sorted by descending score.
func (s *RelevanceService) Search(ctx context.Context, q RelevanceQuery) ([]models.MemoryRecord, error) {
	if s == nil || s.backend == nil {
		return nil, fmt.Errorf("memory: relevance service not configured")
	}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("memory: query text is required")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	queryEmbed, ok := s.cache.GetQuery(ctx, text)
	if !ok {
		embed, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("memory: embed query: %w", err)
		}
		queryEmbed = embed
		s.cache.PutQuery(ctx, text, embed)
	}

	results, err := s.backend.Search(ctx, queryEmbed, &backend.SearchOptions{
		Scope:       q.Scope,
		ScopeID:     q.ScopeID,
		Limit:       limit * 2, // overfetch; entity boosts can reorder past the raw cutoff
		Filters:     q.Filters,
		SearchMode:  backend.SearchModeHybrid,
		HybridAlpha: vectorWeight,
		Query:       text,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: hybrid search: %w", err)
	}

	records := make([]models.MemoryRecord, 0, len(results))
	for _, r := range results {
		if r == nil || r.Entry == nil {
			continue
		}
		rec, ok := recordFromEntry(r.Entry, float64(r.Score))
		if !ok {
			continue
		}
		rec.Score = applyEntityBoost(rec.Score, r.Entry, q.Entities)
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Score > records[j].Score })
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Merge implements the §4.12 merge step: pinned first, then fresh records
// whose id is not already present. Thin wrapper over models.MergeMemories
// kept here so callers have one entry point for the whole relevance flow.
func (s *RelevanceService) Merge(pinned, fresh []models.MemoryRecord) []models.MemoryRecord {
	return models.MergeMemories(pinned, fresh)
}

// ClusterForDisplay applies the §4.12/§4.13 tie-break rule for search-result
// display: if the top result leads the next by more than clusterScoreBand,
// return only it; otherwise return every consecutive result within
// clusterScoreBand of the top, capped at clusterMaxResults; default to the
// top clusterDefaultResults when there is no clear cluster (i.e. the loop
// below naturally produces that when scores spread evenly, since the cap
// and band logic is applied uniformly — the explicit default only matters
// for the single/empty edge cases).
func ClusterForDisplay(records []models.MemoryRecord) []models.MemoryRecord {
	if len(records) == 0 {
		return nil
	}
	if len(records) == 1 {
		return records
	}
	top := records[0].Score
	if top-records[1].Score > clusterScoreBand {
		return records[:1]
	}
	out := []models.MemoryRecord{records[0]}
	for i := 1; i < len(records) && len(out) < clusterMaxResults; i++ {
		if top-records[i].Score > clusterScoreBand {
			break
		}
		out = append(out, records[i])
	}
	if len(out) > clusterDefaultResults {
		return out
	}
	if len(out) < clusterDefaultResults && len(records) >= clusterDefaultResults {
		return records[:clusterDefaultResults]
	}
	return out
}

// recordFromEntry projects a backend storage row onto MIRA's MemoryRecord,
// pulling the spec's extended fields out of the teacher's open-ended
// Metadata.Extra bag.
func recordFromEntry(e *pkgmodels.MemoryEntry, score float64) (models.MemoryRecord, bool) {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return models.MemoryRecord{}, false
	}
	rec := models.MemoryRecord{
		ID:        id,
		Text:      e.Content,
		CreatedAt: e.CreatedAt,
		Score:     score,
	}
	extra := e.Metadata.Extra
	if extra == nil {
		return rec, true
	}
	if v, ok := extra["importance_score"].(float64); ok {
		rec.ImportanceScore = v
	}
	if v, ok := extra["confidence"].(float64); ok {
		rec.Confidence = v
	}
	if v, ok := extra["happens_at"].(string); ok && v != "" {
		if t, err := parseTimeRFC3339(v); err == nil {
			rec.HappensAt = &t
		}
	}
	if v, ok := extra["expires_at"].(string); ok && v != "" {
		if t, err := parseTimeRFC3339(v); err == nil {
			rec.ExpiresAt = &t
		}
	}
	if v, ok := extra["linked_memories"].([]any); ok {
		for _, raw := range v {
			s, ok := raw.(string)
			if !ok {
				continue
			}
			if linkID, err := uuid.Parse(s); err == nil {
				rec.LinkedMemories = append(rec.LinkedMemories, linkID)
			}
		}
	}
	return rec, true
}

// applyEntityBoost multiplies score by (1 + boost), boost being the sum of
// entityBoostPerMatch * WeightForEntity(kind) for each query entity that
// fuzzy-matches (>= entityFuzzyThreshold) one of the entry's tagged
// entities, capped at entityBoostCap.
func applyEntityBoost(score float64, e *pkgmodels.MemoryEntry, queryEntities []QueryEntity) float64 {
	if len(queryEntities) == 0 || e.Metadata.Extra == nil {
		return score
	}
	raw, ok := e.Metadata.Extra["entities"].([]any)
	if !ok || len(raw) == 0 {
		return score
	}
	var entryEntities []QueryEntity
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text, _ := m["text"].(string)
		kind, _ := m["kind"].(string)
		if text == "" {
			continue
		}
		entryEntities = append(entryEntities, QueryEntity{Text: text, Kind: kind})
	}

	boost := 0.0
	for _, q := range queryEntities {
		best := 0.0
		var bestKind string
		for _, e := range entryEntities {
			sim := fuzzySimilarity(q.Text, e.Text)
			if sim > best {
				best = sim
				bestKind = e.Kind
			}
		}
		if best >= entityFuzzyThreshold {
			boost += entityBoostPerMatch * models.WeightForEntity(bestKind)
		}
	}
	if boost > entityBoostCap {
		boost = entityBoostCap
	}
	return score * (1 + boost)
}

func parseTimeRFC3339(s string) (t timeValue, err error) {
	return parseTime(s)
}
