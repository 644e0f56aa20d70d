package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"go.uber.org/zap"

	"github.com/chatrag/backend/pkg/circuitbreaker"
	"github.com/chatrag/backend/pkg/logger"
)

const DefaultGoogleEmbeddingModel = "text-embedding-004"

// LangchainEmbedder guards a langchaingo embedder with a circuit breaker and
// a per-call timeout.
type LangchainEmbedder struct {
	name    string
	impl    embeddings.Embedder
	timeout time.Duration
	cb      *circuitbreaker.Breaker
}

func NewLangchainEmbedder(name string, impl embeddings.Embedder, timeout time.Duration) *LangchainEmbedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LangchainEmbedder{
		name:    name,
		impl:    impl,
		timeout: timeout,
		cb:      newBreaker(name),
	}
}

// NewGoogleEmbedder builds a Google AI (Gemini API) embedder.
func NewGoogleEmbedder(ctx context.Context, apiKey, model string, timeout time.Duration) (*LangchainEmbedder, error) {
	if model == "" {
		model = DefaultGoogleEmbeddingModel
	}
	opts := []googleai.Option{googleai.WithDefaultEmbeddingModel(model)}
	if apiKey != "" {
		opts = append(opts, googleai.WithAPIKey(apiKey))
	}

	client, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize googleai client: %w", err)
	}
	impl, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(embeddingBatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to construct googleai embedder: %w", err)
	}

	logger.Info("Google AI embedder initialized", zap.String("model", model))
	return NewLangchainEmbedder("googleai", impl, timeout), nil
}

func (e *LangchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out [][]float32
	err := e.cb.Execute(ctx, func(ctx context.Context) error {
		vectors, err := e.impl.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("got %d embeddings for %d inputs", len(vectors), len(texts))
		}
		out = vectors
		return nil
	})
	if err != nil {
		logger.Error("Embedding failed", zap.String("provider", e.name), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return out, nil
}

func (e *LangchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out []float32
	err := e.cb.Execute(ctx, func(ctx context.Context) error {
		v, err := e.impl.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		logger.Error("Query embedding failed", zap.String("provider", e.name), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return out, nil
}
