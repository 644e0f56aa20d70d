// Package redis caches embedding vectors so re-ingesting a transcript or
// repeating a query does not pay for the same embedding twice.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatrag/backend/pkg/logger"
	"github.com/chatrag/backend/pkg/utils"
)

type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func embeddingKey(namespace, text string) string {
	return fmt.Sprintf("embedding:%s:%s", namespace, utils.HashString(text))
}

// GetEmbeddings looks up every text in one round trip. The result is parallel
// to texts with nil entries for misses.
func (c *Client) GetEmbeddings(ctx context.Context, namespace string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = embeddingKey(namespace, t)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	out := make([][]float32, len(texts))
	hits := 0
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil {
			logger.Warn("Dropping corrupt embedding cache entry", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		out[i] = vec
		hits++
	}

	logger.Debug("Embedding cache lookup",
		zap.Int("requested", len(texts)),
		zap.Int("hits", hits),
	)
	return out, nil
}

func (c *Client) SetEmbeddings(ctx context.Context, namespace string, texts []string, vectors [][]float32, ttl time.Duration) error {
	if len(texts) != len(vectors) {
		return errors.New("texts and vectors differ in length")
	}
	if len(texts) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for i, t := range texts {
		data, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		pipe.Set(ctx, embeddingKey(namespace, t), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embeddings cached", zap.Int("count", len(texts)), zap.Duration("ttl", ttl))
	return nil
}
