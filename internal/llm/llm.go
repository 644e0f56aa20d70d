// Package llm adapts embedding and chat-completion providers to the two
// narrow capabilities the pipeline needs.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/chatrag/backend/internal/metrics"
	"github.com/chatrag/backend/pkg/circuitbreaker"
	"github.com/chatrag/backend/pkg/logger"
)

var (
	ErrGeneration = errors.New("generation failed")
	ErrEmbedding  = errors.New("embedding failed")
)

// Embedder turns text into vectors. EmbedDocuments returns one vector per
// input, in input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

func newBreaker(name string) *circuitbreaker.Breaker {
	return circuitbreaker.New(name, circuitbreaker.Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}
