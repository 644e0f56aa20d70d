package query

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/chat"
	"github.com/chatrag/backend/internal/llm"
	"github.com/chatrag/backend/internal/vector"
	"github.com/chatrag/backend/pkg/logger"
)

const DefaultK = 10

type Retriever struct {
	store    vector.Store
	embedder llm.Embedder
	index    string
}

func NewRetriever(store vector.Store, embedder llm.Embedder, index string) *Retriever {
	return &Retriever{store: store, embedder: embedder, index: index}
}

// Retrieve returns at most k candidates, most relevant first. A non-empty
// userFilter restricts results to chunks whose chat_account equals it.
func (r *Retriever) Retrieve(ctx context.Context, text, userFilter string, k int) ([]vector.Match, error) {
	if k <= 0 {
		k = DefaultK
	}

	vec, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		logger.Error("Failed to embed query", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", vector.ErrRetrieval, err)
	}

	var filter vector.Filter
	if userFilter != "" {
		filter = vector.Filter{chat.KeyAccount: userFilter}
	}

	matches, err := r.store.Search(ctx, r.index, vec, k, filter)
	if err != nil {
		logger.Error("Similarity search failed", zap.String("index", r.index), zap.Error(err))
		if errors.Is(err, vector.ErrRetrieval) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", vector.ErrRetrieval, err)
	}
	if len(matches) > k {
		matches = matches[:k]
	}

	logger.Debug("Candidates retrieved",
		zap.Int("k", k),
		zap.Int("candidates", len(matches)),
		zap.Bool("filtered", filter != nil),
	)
	return matches, nil
}
