package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/chatrag/backend/internal/access"
	"github.com/chatrag/backend/internal/chat"
	"github.com/chatrag/backend/internal/llm"
	"github.com/chatrag/backend/internal/query"
	"github.com/chatrag/backend/internal/source"
	"github.com/chatrag/backend/internal/vector"
)

// statusFor maps pipeline errors onto HTTP status codes. Failures of external
// collaborators surface as 502 so clients can tell them from bad input.
func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrEmptyQuery):
		return fiber.StatusBadRequest
	case errors.Is(err, chat.ErrSchema):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, access.ErrClassification),
		errors.Is(err, source.ErrFetch),
		errors.Is(err, vector.ErrIndex),
		errors.Is(err, vector.ErrRetrieval),
		errors.Is(err, llm.ErrGeneration):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorBody(err error) fiber.Map {
	return fiber.Map{"error": err.Error()}
}
