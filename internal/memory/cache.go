package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// QueryCache is the KV subset the embedding cache needs. A nil KVStore
// falls back to no caching — every Embed call goes to the provider.
type QueryCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// embeddingCacheTTL is the fixed TTL for cached query/document embeddings
// (§6 outbound contracts: "15-minute KV cache keyed by SHA-256(text)").
const embeddingCacheTTL = 15 * time.Minute

const (
	queryCacheNamespace = "embedding_768_query"
	docCacheNamespace   = "embedding_768_doc"
)

// EmbeddingCache wraps an embeddings.Provider with the KV-backed cache
// described in §6, namespaced by realtime-vs-deep mode and keyed by
// SHA-256(text).
type EmbeddingCache struct {
	kv QueryCache
}

// NewEmbeddingCache builds a cache around kv. A nil kv is valid: every
// lookup misses and every store is a no-op.
func NewEmbeddingCache(kv QueryCache) *EmbeddingCache {
	return &EmbeddingCache{kv: kv}
}

func cacheKey(namespace, text string) string {
	sum := sha256.Sum256([]byte(text))
	return namespace + ":" + hex.EncodeToString(sum[:])
}

// GetQuery looks up a realtime (query-mode) embedding.
func (c *EmbeddingCache) GetQuery(ctx context.Context, text string) ([]float32, bool) {
	return c.get(ctx, cacheKey(queryCacheNamespace, text))
}

// PutQuery stores a realtime embedding with the fixed TTL.
func (c *EmbeddingCache) PutQuery(ctx context.Context, text string, embedding []float32) {
	c.put(ctx, cacheKey(queryCacheNamespace, text), embedding)
}

// GetDoc looks up a deep (document-mode) embedding.
func (c *EmbeddingCache) GetDoc(ctx context.Context, text string) ([]float32, bool) {
	return c.get(ctx, cacheKey(docCacheNamespace, text))
}

// PutDoc stores a deep embedding with the fixed TTL.
func (c *EmbeddingCache) PutDoc(ctx context.Context, text string, embedding []float32) {
	c.put(ctx, cacheKey(docCacheNamespace, text), embedding)
}

func (c *EmbeddingCache) get(ctx context.Context, key string) ([]float32, bool) {
	if c.kv == nil {
		return nil, false
	}
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var embedding []float32
	if err := json.Unmarshal(raw, &embedding); err != nil {
		return nil, false
	}
	return embedding, true
}

func (c *EmbeddingCache) put(ctx context.Context, key string, embedding []float32) {
	if c.kv == nil {
		return
	}
	raw, err := json.Marshal(embedding)
	if err != nil {
		return
	}
	_ = c.kv.SetWithTTL(ctx, key, raw, embeddingCacheTTL)
}
