package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/ingestion"
	"github.com/chatrag/backend/internal/storage/models"
	"github.com/chatrag/backend/pkg/logger"
)

type Ingester interface {
	Ingest(ctx context.Context, sourceURI string, event json.RawMessage) (*ingestion.Result, error)
}

type RunLister interface {
	ListIngestionRuns(ctx context.Context, limit int) ([]models.IngestionRun, error)
}

type IngestHandler struct {
	ingester Ingester
	runs     RunLister
}

// NewIngestHandler serves ingestion requests. runs may be nil, in which case
// the run listing is empty.
func NewIngestHandler(ingester Ingester, runs RunLister) *IngestHandler {
	return &IngestHandler{ingester: ingester, runs: runs}
}

type ingestRequest struct {
	SourceURI           string          `json:"source_uri"`
	ClassificationEvent json.RawMessage `json:"classification_event"`
}

func (h *IngestHandler) HandleIngest(c *fiber.Ctx) error {
	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	req.SourceURI = strings.TrimSpace(req.SourceURI)
	if req.SourceURI == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "source_uri is required",
		})
	}

	result, err := h.ingester.Ingest(c.UserContext(), req.SourceURI, req.ClassificationEvent)
	if err != nil {
		logger.Error("Ingestion failed", zap.String("source_uri", req.SourceURI), zap.Error(err))
		body := errorBody(err)
		if result != nil {
			body["result"] = result
		}
		return c.Status(statusFor(err)).JSON(body)
	}

	return c.JSON(result)
}

type runEntry struct {
	ID            string  `json:"run_id"`
	SourceURI     string  `json:"source_uri"`
	Outcome       string  `json:"outcome"`
	Shape         string  `json:"shape,omitempty"`
	Chats         int     `json:"chats"`
	SkippedChats  int     `json:"skipped_chats"`
	Units         int     `json:"units"`
	Chunks        int     `json:"chunks"`
	Accessibility string  `json:"accessibility,omitempty"`
	Confidence    float64 `json:"confidence"`
	Error         string  `json:"error,omitempty"`
	LatencyMS     int64   `json:"latency_ms"`
	CreatedAt     string  `json:"created_at"`
}

func (h *IngestHandler) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 500",
		})
	}

	runs := []runEntry{}
	if h.runs == nil {
		return c.JSON(fiber.Map{"runs": runs})
	}

	records, err := h.runs.ListIngestionRuns(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to list ingestion runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list ingestion runs",
		})
	}

	for _, r := range records {
		runs = append(runs, runEntry{
			ID:            r.ID,
			SourceURI:     r.SourceURI,
			Outcome:       r.Outcome,
			Shape:         r.Shape,
			Chats:         r.Chats,
			SkippedChats:  r.SkippedChats,
			Units:         r.Units,
			Chunks:        r.Chunks,
			Accessibility: r.Accessibility,
			Confidence:    r.Confidence,
			Error:         r.Error,
			LatencyMS:     r.LatencyMS,
			CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"runs": runs})
}
