// Package query answers questions over indexed transcripts and resolves the
// citations in the generated answer.
package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/citation"
	"github.com/chatrag/backend/internal/llm"
	"github.com/chatrag/backend/internal/metrics"
	"github.com/chatrag/backend/internal/storage/models"
	"github.com/chatrag/backend/internal/vector"
	"github.com/chatrag/backend/pkg/logger"
)

var ErrEmptyQuery = errors.New("query text is required")

// HistoryStore is satisfied by *sqlite.Client.
type HistoryStore interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
	GetQueryHistory(ctx context.Context, userFilter string, limit int) ([]models.QueryRecord, error)
}

type Request struct {
	Text       string
	UserFilter string
}

type Response struct {
	ID         string              `json:"id"`
	Query      string              `json:"query"`
	Answer     string              `json:"answer"`
	Citations  []citation.Citation `json:"references"`
	Candidates []vector.Match      `json:"-"`
	LatencyMS  int64               `json:"latency_ms"`
}

type Engine struct {
	retriever *Retriever
	generator llm.Generator
	history   HistoryStore
	k         int
}

// NewEngine wires the query path. history may be nil.
func NewEngine(retriever *Retriever, generator llm.Generator, history HistoryStore, k int) *Engine {
	if k <= 0 {
		k = DefaultK
	}
	return &Engine{retriever: retriever, generator: generator, history: history, k: k}
}

func (e *Engine) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	queryID := uuid.NewString()
	log := logger.GetLogger().With(zap.String("query_id", queryID))
	log.Info("Processing query", zap.String("query", text), zap.String("user_filter", req.UserFilter))

	candidates, err := e.retriever.Retrieve(ctx, text, req.UserFilter, e.k)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("retrieval_error").Inc()
		return nil, err
	}
	metrics.RetrievedCandidates.Observe(float64(len(candidates)))

	answer, err := e.generator.Generate(ctx, BuildPrompt(text, candidates))
	if err != nil {
		log.Error("Generation failed", zap.Error(err))
		metrics.QueryTotal.WithLabelValues("generation_error").Inc()
		if !errors.Is(err, llm.ErrGeneration) {
			err = errors.Join(llm.ErrGeneration, err)
		}
		return nil, err
	}

	citations := citation.Extract(answer, candidates)
	metrics.CitationsPerAnswer.Observe(float64(len(citations)))

	resp := &Response{
		ID:         queryID,
		Query:      text,
		Answer:     answer,
		Citations:  citations,
		Candidates: candidates,
		LatencyMS:  time.Since(start).Milliseconds(),
	}

	e.record(ctx, req.UserFilter, resp)
	metrics.QueryTotal.WithLabelValues("success").Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())

	log.Info("Query answered",
		zap.Int("candidates", len(candidates)),
		zap.Int("citations", len(citations)),
		zap.Int64("latency_ms", resp.LatencyMS),
	)
	return resp, nil
}

// History lists the most recent answered queries for a user filter.
func (e *Engine) History(ctx context.Context, userFilter string, limit int) ([]models.QueryRecord, error) {
	if e.history == nil {
		return []models.QueryRecord{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return e.history.GetQueryHistory(ctx, userFilter, limit)
}

func (e *Engine) record(ctx context.Context, userFilter string, resp *Response) {
	if e.history == nil {
		return
	}
	rec := &models.QueryRecord{
		ID:             resp.ID,
		UserFilter:     userFilter,
		QueryText:      resp.Query,
		Answer:         resp.Answer,
		CandidateCount: len(resp.Candidates),
		LatencyMS:      resp.LatencyMS,
		CreatedAt:      time.Now(),
	}
	for _, c := range resp.Citations {
		rec.Citations = append(rec.Citations, models.QueryCitation{
			QueryID:   resp.ID,
			Marker:    c.Marker,
			Number:    c.Number,
			ChunkID:   c.ChunkID,
			ChatID:    c.ChatID,
			TurnID:    c.TurnID,
			Title:     c.Title,
			Timestamp: c.Timestamp,
		})
	}
	if err := e.history.InsertQueryRecord(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("Failed to record query history", zap.String("query_id", resp.ID), zap.Error(err))
	}
}
