package validation

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/source"
	"github.com/chatrag/backend/pkg/logger"
)

type Config struct {
	MaxQueryLength int
	MaxUserLength  int

	// MaxEventSize bounds the classification event, not the transcript, which
	// is fetched from the source URI.
	MaxEventSize int

	// AllowLocalSources accepts file:// URIs and bare paths on ingest.
	AllowLocalSources bool

	Logger *zap.Logger
}

type ingestBody struct {
	SourceURI           *string         `json:"source_uri"`
	ClassificationEvent json.RawMessage `json:"classification_event"`
}

type queryBody struct {
	Query    *string `json:"query"`
	ChatUser *string `json:"chat_user"`
}

// Middleware validates the ingest and query payloads before they reach the
// handlers. Accepted query bodies are rewritten with sanitized fields.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxUserLength <= 0 {
		cfg.MaxUserLength = 256
	}
	if cfg.MaxEventSize <= 0 {
		cfg.MaxEventSize = 256 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("validation")
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		if ct := c.Get(fiber.HeaderContentType); ct != "" && !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		switch {
		case strings.HasSuffix(c.Path(), "/api/v1/ingest"):
			return validateIngest(c, cfg)
		case strings.HasSuffix(c.Path(), "/api/v1/query"):
			return validateQuery(c, cfg)
		}
		return c.Next()
	}
}

func validateIngest(c *fiber.Ctx, cfg Config) error {
	var req ingestBody
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.SourceURI == nil || strings.TrimSpace(*req.SourceURI) == "" {
		return badRequest(c, "source_uri is required and must be a string")
	}
	if !validSourceURI(strings.TrimSpace(*req.SourceURI), cfg.AllowLocalSources) {
		cfg.Logger.Warn("Rejected source URI",
			zap.String("ip", c.IP()),
			zap.String("source_uri", *req.SourceURI),
		)
		if cfg.AllowLocalSources {
			return badRequest(c, "source_uri must be an s3:// or file:// location")
		}
		return badRequest(c, "source_uri must be an s3://bucket/key location")
	}

	if len(req.ClassificationEvent) > cfg.MaxEventSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "classification_event exceeds maximum size",
		})
	}
	if len(req.ClassificationEvent) > 0 && !isJSONObject(req.ClassificationEvent) {
		return badRequest(c, "classification_event must be a JSON object")
	}

	return c.Next()
}

func validateQuery(c *fiber.Ctx, cfg Config) error {
	var req queryBody
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.Query == nil {
		return badRequest(c, "Query is required and must be a string")
	}
	text := sanitizeString(*req.Query)
	if text == "" {
		return badRequest(c, "Query is required and must be a string")
	}
	if utf8.RuneCountInString(text) > cfg.MaxQueryLength {
		return badRequest(c, "Query exceeds maximum length")
	}

	user := ""
	if req.ChatUser != nil {
		user = sanitizeString(*req.ChatUser)
		if utf8.RuneCountInString(user) > cfg.MaxUserLength {
			return badRequest(c, "chat_user exceeds maximum length")
		}
	}

	body, err := json.Marshal(map[string]string{"query": text, "chat_user": user})
	if err != nil {
		return err
	}
	c.Request().SetBody(body)
	c.Request().Header.SetContentType(fiber.MIMEApplicationJSON)

	return c.Next()
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

func validSourceURI(uri string, allowLocal bool) bool {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		_, _, err := source.ParseS3URI(uri)
		return err == nil
	case !allowLocal:
		return false
	case strings.HasPrefix(lower, "file://"):
		return len(uri) > len("file://")
	default:
		return !strings.Contains(uri, "://")
	}
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil
}
