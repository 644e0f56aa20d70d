package ingestion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/chunking"
	"github.com/chatrag/backend/internal/llm"
	"github.com/chatrag/backend/internal/vector"
	"github.com/chatrag/backend/pkg/logger"
)

// Writer embeds chunks and upserts them keyed by chunk_id, so re-ingesting the
// same transcript overwrites instead of duplicating.
type Writer struct {
	store    vector.Store
	embedder llm.Embedder
	spec     vector.IndexSpec
}

func NewWriter(store vector.Store, embedder llm.Embedder, spec vector.IndexSpec) *Writer {
	return &Writer{store: store, embedder: embedder, spec: spec}
}

func (w *Writer) Spec() vector.IndexSpec { return w.spec }

// Write is all or nothing from the caller's view: any failure is reported as
// vector.ErrIndex and no partial success is claimed.
func (w *Writer) Write(ctx context.Context, chunks []chunking.Chunk) error {
	if err := w.store.EnsureIndex(ctx, w.spec); err != nil {
		logger.Error("Failed to ensure index", zap.String("index", w.spec.Name), zap.Error(err))
		return wrapIndex(err)
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := w.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		logger.Error("Failed to embed chunks", zap.Int("chunks", len(chunks)), zap.Error(err))
		return fmt.Errorf("%w: %w", vector.ErrIndex, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: embedder returned %d vectors for %d chunks", vector.ErrIndex, len(vectors), len(chunks))
	}

	records := make([]vector.Record, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) != w.spec.Dimension {
			return fmt.Errorf("%w: chunk %s embedded to %d dimensions, index expects %d",
				vector.ErrIndex, c.ChunkID, len(vectors[i]), w.spec.Dimension)
		}
		records[i] = vector.Record{
			ID:       c.ChunkID,
			Vector:   vectors[i],
			Text:     c.Text,
			Metadata: c.Fields(),
		}
	}

	if err := w.store.Upsert(ctx, w.spec.Name, records); err != nil {
		logger.Error("Failed to upsert chunks", zap.String("index", w.spec.Name), zap.Error(err))
		return wrapIndex(err)
	}

	logger.Info("Chunks written to index",
		zap.String("index", w.spec.Name),
		zap.Int("chunks", len(records)),
	)
	return nil
}

func wrapIndex(err error) error {
	if errors.Is(err, vector.ErrIndex) {
		return err
	}
	return fmt.Errorf("%w: %w", vector.ErrIndex, err)
}
