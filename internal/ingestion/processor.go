// Package ingestion runs one transcript document through classification,
// normalization, flattening, chunking and indexing.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/access"
	"github.com/chatrag/backend/internal/chat"
	"github.com/chatrag/backend/internal/chunking"
	"github.com/chatrag/backend/internal/metrics"
	"github.com/chatrag/backend/internal/source"
	"github.com/chatrag/backend/internal/storage/models"
	"github.com/chatrag/backend/pkg/logger"
)

type Outcome string

const (
	OutcomeIngested    Outcome = "ingested"
	OutcomeNoDocuments Outcome = "no_documents"
)

// Categorizer is satisfied by *access.Classifier.
type Categorizer interface {
	Classify(ctx context.Context, event json.RawMessage) (*access.Categorization, error)
}

// Ledger records every run. *sqlite.Client satisfies it.
type Ledger interface {
	InsertIngestionRun(ctx context.Context, run *models.IngestionRun) error
}

type Dependencies struct {
	Classifier Categorizer
	Policy     access.Policy
	Fetcher    source.Fetcher
	Flattener  *chat.Flattener
	Chunker    *chunking.Chunker
	Writer     *Writer
	// Ledger is optional.
	Ledger Ledger
}

type Result struct {
	RunID         string             `json:"run_id"`
	SourceURI     string             `json:"source_uri"`
	Outcome       Outcome            `json:"outcome"`
	Shape         chat.Shape         `json:"shape,omitempty"`
	Chats         int                `json:"chats"`
	SkippedChats  int                `json:"skipped_chats"`
	Units         int                `json:"units"`
	Chunks        int                `json:"chunks"`
	Accessibility chat.Accessibility `json:"accessibility"`
	LatencyMS     int64              `json:"latency_ms"`
}

type Processor struct {
	deps Dependencies
}

func NewProcessor(deps Dependencies) *Processor {
	return &Processor{deps: deps}
}

// Ingest processes one source document. On failure the returned Result still
// carries OutcomeNoDocuments together with the wrapped error.
func (p *Processor) Ingest(ctx context.Context, sourceURI string, event json.RawMessage) (result *Result, err error) {
	start := time.Now()
	result = &Result{
		RunID:     uuid.NewString(),
		SourceURI: sourceURI,
		Outcome:   OutcomeNoDocuments,
	}
	defer func() {
		result.LatencyMS = time.Since(start).Milliseconds()
		p.finish(ctx, result, err, time.Since(start))
	}()

	log := logger.GetLogger().With(zap.String("run_id", result.RunID), zap.String("source_uri", sourceURI))
	log.Info("Starting ingestion")

	categories, err := p.deps.Classifier.Classify(ctx, event)
	if err != nil {
		log.Error("Error receiving response from classifier", zap.Error(err))
		return result, err
	}
	result.Accessibility = p.deps.Policy.DecideFor(categories)

	raw, err := p.deps.Fetcher.Fetch(ctx, sourceURI)
	if err != nil {
		log.Error("Failed to fetch source document", zap.Error(err))
		return result, err
	}

	normalized, err := chat.Normalize(raw)
	if err != nil {
		log.Error("Failed to normalize source document", zap.Error(err))
		return result, err
	}
	result.Shape = normalized.Shape

	flat := p.deps.Flattener.Flatten(normalized.Records, result.Accessibility)
	result.Chats = flat.Chats
	result.SkippedChats = flat.Skipped
	result.Units = len(flat.Units)

	chunks, err := p.deps.Chunker.ChunkAll(flat.Units)
	if err != nil {
		log.Error("Failed to chunk content units", zap.Error(err))
		return result, fmt.Errorf("chunking %s: %w", sourceURI, err)
	}
	if len(chunks) == 0 {
		log.Warn("No documents were created")
		return result, nil
	}

	if err := p.deps.Writer.Write(ctx, chunks); err != nil {
		return result, err
	}

	result.Chunks = len(chunks)
	result.Outcome = OutcomeIngested
	log.Info("Data ingested successfully",
		zap.String("shape", string(result.Shape)),
		zap.Int("chats", result.Chats),
		zap.Int("skipped_chats", result.SkippedChats),
		zap.Int("units", result.Units),
		zap.Int("chunks", result.Chunks),
		zap.String("accessibility", result.Accessibility.Label),
	)
	return result, nil
}

func (p *Processor) finish(ctx context.Context, result *Result, runErr error, elapsed time.Duration) {
	metrics.IngestionTotal.WithLabelValues(string(result.Outcome)).Inc()
	metrics.IngestionDuration.Observe(elapsed.Seconds())
	metrics.ChatsSkipped.Add(float64(result.SkippedChats))
	metrics.ChunksIndexed.Add(float64(result.Chunks))
	if result.Accessibility.Label != "" {
		metrics.AccessibilityDecisions.WithLabelValues(result.Accessibility.Label).Inc()
	}

	if p.deps.Ledger == nil {
		return
	}
	run := &models.IngestionRun{
		ID:            result.RunID,
		SourceURI:     result.SourceURI,
		Outcome:       string(result.Outcome),
		Shape:         string(result.Shape),
		Chats:         result.Chats,
		SkippedChats:  result.SkippedChats,
		Units:         result.Units,
		Chunks:        result.Chunks,
		Accessibility: result.Accessibility.Label,
		Confidence:    result.Accessibility.Confidence,
		LatencyMS:     elapsed.Milliseconds(),
		CreatedAt:     time.Now(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// The run is recorded even when the caller has already gone away.
	if err := p.deps.Ledger.InsertIngestionRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("Failed to record ingestion run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
