// Package app assembles the ingestion and query pipelines from configuration.
// Both the HTTP server and the CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/access"
	"github.com/chatrag/backend/internal/cache/redis"
	"github.com/chatrag/backend/internal/chat"
	"github.com/chatrag/backend/internal/chunking"
	"github.com/chatrag/backend/internal/ingestion"
	"github.com/chatrag/backend/internal/llm"
	"github.com/chatrag/backend/internal/query"
	"github.com/chatrag/backend/internal/source"
	"github.com/chatrag/backend/internal/storage/sqlite"
	"github.com/chatrag/backend/internal/vector"
	"github.com/chatrag/backend/internal/vector/memory"
	"github.com/chatrag/backend/internal/vector/milvus"
	"github.com/chatrag/backend/pkg/config"
	"github.com/chatrag/backend/pkg/logger"
)

type App struct {
	Config    *config.Config
	Processor *ingestion.Processor
	Engine    *query.Engine
	DB        *sqlite.Client

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	metric, err := vector.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}
	spec := vector.IndexSpec{Name: cfg.Index.Name, Dimension: cfg.Index.Dimension, Metric: metric}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	a.DB, err = sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	a.closers = append(a.closers, a.DB.Close)
	if err := a.DB.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store, err := a.newStore(ctx, metric)
	if err != nil {
		return nil, err
	}

	embedder, err := a.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	chunker, err := chunking.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	fetcher := source.NewRouter()
	fetcher.Register("s3", source.NewS3Fetcher(awsCfg))
	if root := cfg.Source.LocalRoot; root != "" {
		files, err := source.NewFileFetcher(root)
		if err != nil {
			return nil, err
		}
		fetcher.RegisterLocal(files)
		logger.Info("Local transcript sources enabled", zap.String("root", root))
	}

	a.Processor = ingestion.NewProcessor(ingestion.Dependencies{
		Classifier: newClassifier(awsCfg, cfg.Access.ClassifierFunction),
		Policy:     access.NewPolicy(cfg.Access.Threshold),
		Fetcher:    fetcher,
		Flattener: chat.NewFlattener(chat.FlattenOptions{
			DefaultEngine: cfg.Chat.DefaultEngine,
			DefaultUser:   cfg.Chat.DefaultUser,
			StripHTML:     cfg.Chat.StripHTML,
		}),
		Chunker: chunker,
		Writer:  ingestion.NewWriter(store, embedder, spec),
		Ledger:  a.DB,
	})

	generator := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	a.Engine = query.NewEngine(query.NewRetriever(store, embedder, spec.Name), generator, a.DB, cfg.Retrieval.K)

	logger.Info("Pipelines ready",
		zap.String("index", spec.Name),
		zap.String("backend", cfg.Index.Backend),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Int("dimension", spec.Dimension),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) newStore(ctx context.Context, metric vector.Metric) (vector.Store, error) {
	switch a.Config.Index.Backend {
	case "memory":
		logger.Warn("Using in-memory vector store; indexed chunks are lost on exit")
		return memory.New(), nil
	default:
		store, err := milvus.New(ctx, a.Config.Milvus.Endpoint, a.Config.Milvus.APIKey, metric)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Milvus: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
}

func (a *App) newEmbedder(ctx context.Context) (llm.Embedder, error) {
	cfg := a.Config.Embedding
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	var embedder llm.Embedder
	switch strings.ToLower(cfg.Provider) {
	case "googleai", "google", "gemini":
		g, err := llm.NewGoogleEmbedder(ctx, cfg.APIKey, cfg.Model, timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create Google AI embedder: %w", err)
		}
		embedder = g
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = a.Config.LLM.BaseURL
		}
		embedder = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        baseURL,
			EmbeddingModel: cfg.Model,
			Dimensions:     a.Config.Index.Dimension,
			Timeout:        timeout,
		})
	case "hash":
		logger.Warn("Using hash embedder; retrieval quality is not meaningful")
		embedder = llm.NewHashEmbedder(a.Config.Index.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if !a.Config.Redis.Enabled {
		return embedder, nil
	}

	rc := a.Config.Redis
	cache, err := redis.NewClient(ctx, rc.Host, rc.Port, rc.Password, rc.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.closers = append(a.closers, cache.Close)
	namespace := llm.CacheNamespace(cfg.Provider, cfg.Model, a.Config.Index.Dimension)
	return llm.NewCachedEmbedder(embedder, cache, namespace, a.Config.Index.Dimension,
		time.Duration(cfg.CacheTTL)*time.Second), nil
}

func newClassifier(awsCfg aws.Config, function string) *access.Classifier {
	return access.NewClassifier(access.NewLambdaInvoker(awsCfg, function))
}
