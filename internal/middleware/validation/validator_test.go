package validation

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg Config, seen *map[string]string) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(cfg))
	ok := func(c *fiber.Ctx) error {
		if seen != nil {
			_ = json.Unmarshal(c.Body(), seen)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
	app.Post("/api/v1/ingest", ok)
	app.Post("/api/v1/query", ok)
	app.Get("/api/v1/history", ok)
	return app
}

func post(t *testing.T, app *fiber.App, path, contentType, body string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestIngestValidation(t *testing.T) {
	app := newApp(Config{MaxEventSize: 64, AllowLocalSources: true}, nil)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"ShouldAcceptS3URI", `{"source_uri":"s3://bucket/chats/a.json","classification_event":{"id":"1"}}`, fiber.StatusNoContent},
		{"ShouldAcceptLocalPath", `{"source_uri":"./testdata/chats.json"}`, fiber.StatusNoContent},
		{"ShouldAcceptFileURI", `{"source_uri":"file:///tmp/chats.json"}`, fiber.StatusNoContent},
		{"ShouldRejectMissingURI", `{"classification_event":{}}`, fiber.StatusBadRequest},
		{"ShouldRejectNonStringURI", `{"source_uri":42}`, fiber.StatusBadRequest},
		{"ShouldRejectBucketWithoutKey", `{"source_uri":"s3://bucket"}`, fiber.StatusBadRequest},
		{"ShouldRejectOtherSchemes", `{"source_uri":"https://example.com/a.json"}`, fiber.StatusBadRequest},
		{"ShouldRejectNonObjectEvent", `{"source_uri":"s3://b/k","classification_event":[1,2]}`, fiber.StatusBadRequest},
		{"ShouldRejectOversizedEvent", `{"source_uri":"s3://b/k","classification_event":{"pad":"` + strings.Repeat("x", 80) + `"}}`, fiber.StatusRequestEntityTooLarge},
		{"ShouldRejectMalformedJSON", `{"source_uri":`, fiber.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, post(t, app, "/api/v1/ingest", fiber.MIMEApplicationJSON, tc.body))
		})
	}
}

func TestIngestRejectsLocalSourcesByDefault(t *testing.T) {
	app := newApp(Config{}, nil)

	for _, uri := range []string{"/etc/passwd", "file:///etc/passwd", "./chats.json", "FILE:///root/.aws/credentials"} {
		t.Run("ShouldReject "+uri, func(t *testing.T) {
			body := `{"source_uri":"` + uri + `"}`
			assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/ingest", fiber.MIMEApplicationJSON, body))
		})
	}

	t.Run("ShouldStillAcceptS3", func(t *testing.T) {
		assert.Equal(t, fiber.StatusNoContent,
			post(t, app, "/api/v1/ingest", fiber.MIMEApplicationJSON, `{"source_uri":"s3://bucket/a.json"}`))
	})
}

func TestQueryValidation(t *testing.T) {
	t.Run("ShouldSanitizeQueryAndUser", func(t *testing.T) {
		seen := map[string]string{}
		app := newApp(Config{}, &seen)

		status := post(t, app, "/api/v1/query", fiber.MIMEApplicationJSON,
			`{"query":"  select the runbook\u0000  ","chat_user":" alice "}`)

		require.Equal(t, fiber.StatusNoContent, status)
		assert.Equal(t, "select the runbook", seen["query"])
		assert.Equal(t, "alice", seen["chat_user"])
	})

	t.Run("ShouldRejectBlankQuery", func(t *testing.T) {
		app := newApp(Config{}, nil)
		assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/query", fiber.MIMEApplicationJSON, `{"query":"   "}`))
		assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/query", fiber.MIMEApplicationJSON, `{"query":7}`))
	})

	t.Run("ShouldRejectLongQuery", func(t *testing.T) {
		app := newApp(Config{MaxQueryLength: 5}, nil)
		assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/query", fiber.MIMEApplicationJSON, `{"query":"abcdef"}`))
		assert.Equal(t, fiber.StatusNoContent, post(t, app, "/api/v1/query", fiber.MIMEApplicationJSON, `{"query":"héllo"}`))
	})

	t.Run("ShouldRejectLongChatUser", func(t *testing.T) {
		app := newApp(Config{MaxUserLength: 3}, nil)
		assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/query", fiber.MIMEApplicationJSON, `{"query":"hi","chat_user":"alice"}`))
	})
}

func TestContentType(t *testing.T) {
	t.Run("ShouldRejectNonJSONPosts", func(t *testing.T) {
		app := newApp(Config{}, nil)
		assert.Equal(t, fiber.StatusUnsupportedMediaType, post(t, app, "/api/v1/query", "text/plain", `query=hi`))
	})

	t.Run("ShouldIgnoreGetRequests", func(t *testing.T) {
		app := newApp(Config{}, nil)
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/history", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	})
}
