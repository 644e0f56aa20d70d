package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/query"
	"github.com/chatrag/backend/internal/storage/models"
	"github.com/chatrag/backend/pkg/logger"
)

type Querier interface {
	Query(ctx context.Context, req query.Request) (*query.Response, error)
	History(ctx context.Context, userFilter string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	engine Querier
}

func NewQueryHandler(engine Querier) *QueryHandler {
	return &QueryHandler{engine: engine}
}

type queryRequest struct {
	Query    string `json:"query"`
	ChatUser string `json:"chat_user"`
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	resp, err := h.engine.Query(c.UserContext(), query.Request{
		Text:       req.Query,
		UserFilter: req.ChatUser,
	})
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(statusFor(err)).JSON(errorBody(err))
	}

	return c.JSON(resp)
}

type historyEntry struct {
	ID         string                 `json:"id"`
	Query      string                 `json:"query"`
	Answer     string                 `json:"answer"`
	Candidates int                    `json:"candidates"`
	LatencyMS  int64                  `json:"latency_ms"`
	CreatedAt  string                 `json:"created_at"`
	References []models.QueryCitation `json:"references"`
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	user := c.Query("chat_user")
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 200",
		})
	}

	records, err := h.engine.History(c.UserContext(), user, limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}

	history := make([]historyEntry, 0, len(records))
	for _, r := range records {
		history = append(history, historyEntry{
			ID:         r.ID,
			Query:      r.QueryText,
			Answer:     r.Answer,
			Candidates: r.CandidateCount,
			LatencyMS:  r.LatencyMS,
			CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339),
			References: r.Citations,
		})
	}

	return c.JSON(fiber.Map{
		"chat_user": user,
		"history":   history,
	})
}
