package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chatrag/backend/pkg/circuitbreaker"
	"github.com/chatrag/backend/pkg/logger"
)

const embeddingBatchSize = 100

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// Model is the chat completion model; EmbeddingModel may be empty when
	// the client is only used for generation.
	Model          string
	EmbeddingModel string
	Dimensions     int
	MaxTokens      int
	Timeout        time.Duration
}

// OpenAIClient talks to any OpenAI-compatible endpoint (OpenAI, Groq, vLLM).
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	dimensions     int
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.Breaker
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("base_url", clientCfg.BaseURL),
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.Dimensions,
		maxTokens:      cfg.MaxTokens,
		timeout:        timeout,
		cb:             newBreaker("openai"),
	}
}

// Generate sends prompt as a single user message at temperature 0.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content string
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			// A literal 0 is dropped by omitempty and the provider default applies.
			Temperature: math.SmallestNonzeroFloat32,
			MaxTokens:   c.maxTokens,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("completion returned no choices")
		}

		logger.Debug("LLM completion generated",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		logger.Error("Generation failed", zap.String("model", c.model), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return content, nil
}

func (c *OpenAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *OpenAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := min(start+embeddingBatchSize, len(texts))
		batch := texts[start:end]

		err := c.cb.Execute(ctx, func(ctx context.Context) error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input:      batch,
				Model:      openai.EmbeddingModel(c.embeddingModel),
				Dimensions: c.dimensions,
			})
			if err != nil {
				return err
			}
			if len(resp.Data) != len(batch) {
				return fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(batch))
			}
			data := resp.Data
			sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
			for _, d := range data {
				out = append(out, d.Embedding)
			}
			return nil
		})
		if err != nil {
			logger.Error("Embedding failed",
				zap.String("model", c.embeddingModel),
				zap.Int("batch_start", start),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(out)))
	return out, nil
}
