package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/metrics"
	"github.com/chatrag/backend/pkg/logger"
)

// EmbeddingCache is implemented by internal/cache/redis.
type EmbeddingCache interface {
	GetEmbeddings(ctx context.Context, namespace string, texts []string) ([][]float32, error)
	SetEmbeddings(ctx context.Context, namespace string, texts []string, vectors [][]float32, ttl time.Duration) error
}

// CachedEmbedder serves repeated texts from a cache and only sends misses to
// the wrapped embedder. Cache failures degrade to uncached calls.
type CachedEmbedder struct {
	next      Embedder
	cache     EmbeddingCache
	namespace string
	dimension int
	ttl       time.Duration
}

// NewCachedEmbedder caches vectors under namespace, which must change whenever
// the vectors would (see CacheNamespace). Cached vectors whose length is not
// dimension are treated as misses; zero disables the check.
func NewCachedEmbedder(next Embedder, cache EmbeddingCache, namespace string, dimension int, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, namespace: namespace, dimension: dimension, ttl: ttl}
}

// CacheNamespace identifies the vector space an embedder produces.
func CacheNamespace(provider, model string, dimension int) string {
	return fmt.Sprintf("%s:%s:%d", strings.ToLower(provider), model, dimension)
}

func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	cached, err := c.cache.GetEmbeddings(ctx, c.namespace, texts)
	if err != nil || len(cached) != len(texts) {
		if err != nil {
			logger.Warn("Embedding cache unavailable", zap.Error(err))
		}
		cached = make([][]float32, len(texts))
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, v := range cached {
		if v == nil || (c.dimension > 0 && len(v) != c.dimension) {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
			continue
		}
		out[i] = v
	}
	metrics.CacheHits.WithLabelValues("embedding").Add(float64(len(texts) - len(missIdx)))
	metrics.CacheMisses.WithLabelValues("embedding").Add(float64(len(missIdx)))
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.next.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
	}

	if err := c.cache.SetEmbeddings(ctx, c.namespace, missTexts, fresh, c.ttl); err != nil {
		logger.Warn("Failed to store embeddings in cache", zap.Error(err))
	}
	return out, nil
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
