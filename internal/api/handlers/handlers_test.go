package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrag/backend/internal/access"
	"github.com/chatrag/backend/internal/chat"
	"github.com/chatrag/backend/internal/citation"
	"github.com/chatrag/backend/internal/ingestion"
	"github.com/chatrag/backend/internal/llm"
	"github.com/chatrag/backend/internal/query"
	"github.com/chatrag/backend/internal/source"
	"github.com/chatrag/backend/internal/storage/models"
	"github.com/chatrag/backend/internal/vector"
)

type fakeIngester struct {
	gotURI   string
	gotEvent json.RawMessage
	result   *ingestion.Result
	err      error
}

func (f *fakeIngester) Ingest(_ context.Context, uri string, event json.RawMessage) (*ingestion.Result, error) {
	f.gotURI = uri
	f.gotEvent = event
	return f.result, f.err
}

type fakeQuerier struct {
	gotReq   query.Request
	resp     *query.Response
	err      error
	history  []models.QueryRecord
	gotUser  string
	gotLimit int
}

func (f *fakeQuerier) Query(_ context.Context, req query.Request) (*query.Response, error) {
	f.gotReq = req
	return f.resp, f.err
}

func (f *fakeQuerier) History(_ context.Context, user string, limit int) ([]models.QueryRecord, error) {
	f.gotUser = user
	f.gotLimit = limit
	return f.history, f.err
}

type fakeRuns struct {
	runs []models.IngestionRun
	err  error
}

func (f *fakeRuns) ListIngestionRuns(_ context.Context, limit int) ([]models.IngestionRun, error) {
	if len(f.runs) > limit {
		return f.runs[:limit], f.err
	}
	return f.runs, f.err
}

func newApp(ing Ingester, q Querier) *fiber.App {
	return newAppWithRuns(ing, q, nil)
}

func newAppWithRuns(ing Ingester, q Querier, runs RunLister) *fiber.App {
	app := fiber.New()
	ih := NewIngestHandler(ing, runs)
	app.Post("/api/v1/ingest", ih.HandleIngest)
	app.Get("/api/v1/ingestions", ih.ListRuns)
	qh := NewQueryHandler(q)
	app.Post("/api/v1/query", qh.HandleQuery)
	app.Get("/api/v1/history", qh.GetQueryHistory)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestIngestHandler(t *testing.T) {
	t.Run("ShouldPassURIAndEventThrough", func(t *testing.T) {
		ing := &fakeIngester{result: &ingestion.Result{
			RunID:         "run-1",
			Outcome:       ingestion.OutcomeIngested,
			Chunks:        4,
			Accessibility: chat.Accessibility{Label: chat.LabelWork},
		}}
		app := newApp(ing, &fakeQuerier{})

		status, body := do(t, app, fiber.MethodPost, "/api/v1/ingest",
			`{"source_uri":" s3://bucket/chats.json ","classification_event":{"detail":"x"}}`)

		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "s3://bucket/chats.json", ing.gotURI)
		assert.JSONEq(t, `{"detail":"x"}`, string(ing.gotEvent))
		assert.Equal(t, "ingested", body["outcome"])
	})

	t.Run("ShouldRejectMissingSourceURI", func(t *testing.T) {
		app := newApp(&fakeIngester{}, &fakeQuerier{})
		status, body := do(t, app, fiber.MethodPost, "/api/v1/ingest", `{"classification_event":{}}`)
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, "source_uri is required", body["error"])
	})

	t.Run("ShouldRejectMalformedBody", func(t *testing.T) {
		app := newApp(&fakeIngester{}, &fakeQuerier{})
		status, _ := do(t, app, fiber.MethodPost, "/api/v1/ingest", `{"source_uri":`)
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	t.Run("ShouldMapPipelineErrorsToStatus", func(t *testing.T) {
		cases := []struct {
			err  error
			want int
		}{
			{fmt.Errorf("%w: missing chat_id", chat.ErrSchema), fiber.StatusUnprocessableEntity},
			{fmt.Errorf("%w: lambda down", access.ErrClassification), fiber.StatusBadGateway},
			{fmt.Errorf("%w: no such key", source.ErrFetch), fiber.StatusBadGateway},
			{fmt.Errorf("%w: upsert", vector.ErrIndex), fiber.StatusBadGateway},
			{fmt.Errorf("boom"), fiber.StatusInternalServerError},
		}
		for _, tc := range cases {
			app := newApp(&fakeIngester{err: tc.err}, &fakeQuerier{})
			status, body := do(t, app, fiber.MethodPost, "/api/v1/ingest", `{"source_uri":"s3://b/k"}`)
			assert.Equal(t, tc.want, status, tc.err.Error())
			assert.Equal(t, tc.err.Error(), body["error"])
		}
	})
}

func TestListRuns(t *testing.T) {
	t.Run("ShouldListLedgerEntries", func(t *testing.T) {
		runs := &fakeRuns{runs: []models.IngestionRun{
			{ID: "r2", SourceURI: "s3://b/2", Outcome: "no_documents", CreatedAt: time.Unix(20, 0)},
			{ID: "r1", SourceURI: "s3://b/1", Outcome: "ingested", Chunks: 7, CreatedAt: time.Unix(10, 0)},
		}}
		app := newAppWithRuns(&fakeIngester{}, &fakeQuerier{}, runs)

		status, body := do(t, app, fiber.MethodGet, "/api/v1/ingestions?limit=1", "")

		require.Equal(t, fiber.StatusOK, status)
		list := body["runs"].([]any)
		require.Len(t, list, 1)
		assert.Equal(t, "r2", list[0].(map[string]any)["run_id"])
	})

	t.Run("ShouldReturnEmptyListWithoutLedger", func(t *testing.T) {
		app := newApp(&fakeIngester{}, &fakeQuerier{})
		status, body := do(t, app, fiber.MethodGet, "/api/v1/ingestions", "")
		require.Equal(t, fiber.StatusOK, status)
		assert.Empty(t, body["runs"])
	})

	t.Run("ShouldFailWhenLedgerFails", func(t *testing.T) {
		app := newAppWithRuns(&fakeIngester{}, &fakeQuerier{}, &fakeRuns{err: fmt.Errorf("locked")})
		status, _ := do(t, app, fiber.MethodGet, "/api/v1/ingestions", "")
		assert.Equal(t, fiber.StatusInternalServerError, status)
	})
}

func TestQueryHandler(t *testing.T) {
	t.Run("ShouldReturnAnswerWithReferences", func(t *testing.T) {
		q := &fakeQuerier{resp: &query.Response{
			ID:     "q-1",
			Query:  "where is the runbook?",
			Answer: "In the wiki [1].",
			Citations: []citation.Citation{
				{Marker: "[1]", Number: 1, Title: "Ops", ChatID: "c1", TurnID: "t1", Timestamp: "2024-01-01"},
			},
		}}
		app := newApp(&fakeIngester{}, q)

		status, body := do(t, app, fiber.MethodPost, "/api/v1/query",
			`{"query":"where is the runbook?","chat_user":"alice"}`)

		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "alice", q.gotReq.UserFilter)
		assert.Equal(t, "In the wiki [1].", body["answer"])
		refs, ok := body["references"].([]any)
		require.True(t, ok)
		require.Len(t, refs, 1)
		assert.Equal(t, "[1]", refs[0].(map[string]any)["source_id"])
	})

	t.Run("ShouldRejectEmptyQuery", func(t *testing.T) {
		app := newApp(&fakeIngester{}, &fakeQuerier{})
		status, _ := do(t, app, fiber.MethodPost, "/api/v1/query", `{"query":""}`)
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	t.Run("ShouldMapEngineErrors", func(t *testing.T) {
		cases := []struct {
			err  error
			want int
		}{
			{query.ErrEmptyQuery, fiber.StatusBadRequest},
			{fmt.Errorf("%w: timeout", vector.ErrRetrieval), fiber.StatusBadGateway},
			{fmt.Errorf("%w: 503", llm.ErrGeneration), fiber.StatusBadGateway},
		}
		for _, tc := range cases {
			app := newApp(&fakeIngester{}, &fakeQuerier{err: tc.err})
			status, _ := do(t, app, fiber.MethodPost, "/api/v1/query", `{"query":"   "}`)
			assert.Equal(t, tc.want, status)
		}
	})

	t.Run("ShouldListHistory", func(t *testing.T) {
		q := &fakeQuerier{history: []models.QueryRecord{{
			ID:             "q-1",
			UserFilter:     "alice",
			QueryText:      "hello",
			Answer:         "hi [1]",
			CandidateCount: 3,
			CreatedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Citations:      []models.QueryCitation{{Marker: "[1]", Number: 1, ChatID: "c1"}},
		}}}
		app := newApp(&fakeIngester{}, q)

		status, body := do(t, app, fiber.MethodGet, "/api/v1/history?chat_user=alice&limit=5", "")

		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "alice", q.gotUser)
		assert.Equal(t, 5, q.gotLimit)
		history := body["history"].([]any)
		require.Len(t, history, 1)
		entry := history[0].(map[string]any)
		assert.Equal(t, "hello", entry["query"])
		assert.Equal(t, "2024-05-01T12:00:00Z", entry["created_at"])
	})

	t.Run("ShouldRejectOutOfRangeLimit", func(t *testing.T) {
		app := newApp(&fakeIngester{}, &fakeQuerier{})
		status, _ := do(t, app, fiber.MethodGet, "/api/v1/history?limit=0", "")
		assert.Equal(t, fiber.StatusBadRequest, status)
	})
}
