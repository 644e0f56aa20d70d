package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrag/backend/internal/access"
	"github.com/chatrag/backend/internal/chat"
	"github.com/chatrag/backend/internal/chunking"
	"github.com/chatrag/backend/internal/llm"
	"github.com/chatrag/backend/internal/source"
	"github.com/chatrag/backend/internal/storage/models"
	"github.com/chatrag/backend/internal/vector"
	"github.com/chatrag/backend/internal/vector/memory"
)

const testDim = 8

type stubClassifier struct {
	work  float64
	err   error
	calls int
}

func (s *stubClassifier) Classify(context.Context, json.RawMessage) (*access.Categorization, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &access.Categorization{
		CategoryOne: access.Category{Name: "Personal", Probability: 1 - s.work},
		CategoryTwo: access.Category{Name: "Work", Probability: s.work},
	}, nil
}

type mapFetcher struct {
	docs  map[string]string
	calls int
}

func (m *mapFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	m.calls++
	doc, ok := m.docs[uri]
	if !ok {
		return nil, errors.Join(source.ErrFetch, errors.New("NoSuchKey"))
	}
	return []byte(doc), nil
}

type recordingLedger struct {
	runs []*models.IngestionRun
}

func (r *recordingLedger) InsertIngestionRun(_ context.Context, run *models.IngestionRun) error {
	r.runs = append(r.runs, run)
	return nil
}

type ensureCountingStore struct {
	*memory.Store
	ensured int
}

func (s *ensureCountingStore) EnsureIndex(ctx context.Context, spec vector.IndexSpec) error {
	s.ensured++
	return s.Store.EnsureIndex(ctx, spec)
}

type harness struct {
	processor  *Processor
	store      *memory.Store
	classifier *stubClassifier
	fetcher    *mapFetcher
	ledger     *recordingLedger
}

func newHarness(t *testing.T, store vector.Store) *harness {
	t.Helper()
	chunker, err := chunking.New(150, 30)
	require.NoError(t, err)

	mem, _ := store.(*memory.Store)
	h := &harness{
		store:      mem,
		classifier: &stubClassifier{work: 0.95},
		fetcher:    &mapFetcher{docs: map[string]string{}},
		ledger:     &recordingLedger{},
	}
	h.processor = NewProcessor(Dependencies{
		Classifier: h.classifier,
		Policy:     access.NewPolicy(access.DefaultThreshold),
		Fetcher:    h.fetcher,
		Flattener:  chat.NewFlattener(chat.FlattenOptions{DefaultEngine: "chatgpt", DefaultUser: "default-user"}),
		Chunker:    chunker,
		Writer: NewWriter(store, llm.NewHashEmbedder(testDim), vector.IndexSpec{
			Name: "chats", Dimension: testDim, Metric: vector.MetricCosine,
		}),
		Ledger: h.ledger,
	})
	return h
}

func longTurn(topic string) string {
	return strings.Repeat("We talked about "+topic+" and what to do next. ", 12)
}

func twoChatDocument(t *testing.T) string {
	t.Helper()
	doc := map[string]any{
		"data": []any{
			map[string]any{
				"chat_id":            "chat-1",
				"title":              "Planning",
				"chat_creation_time": "2024-05-01T10:00:00Z",
				"chat_user":          "alice",
				"messages": []any{
					map[string]any{"turn_id": 1, "author": "user", "turn_timestamp": "t1", "message": longTurn("budgets")},
					map[string]any{"turn_id": 2, "author": "assistant", "turn_timestamp": "t2", "message": longTurn("hiring")},
					map[string]any{"turn_id": 3, "author": "user", "turn_timestamp": "t3", "message": longTurn("roadmaps")},
				},
			},
			map[string]any{
				"chat_id": "chat-2",
				"title":   "Empty",
			},
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(raw)
}

func allRecords(t *testing.T, s *memory.Store) []vector.Match {
	t.Helper()
	got, err := s.Search(context.Background(), "chats", make([]float32, testDim), 10000, nil)
	require.NoError(t, err)
	return got
}

func TestProcessor_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldIndexOnlyValidChatsWithRestartingChunkIndices", func(t *testing.T) {
		h := newHarness(t, memory.New())
		h.fetcher.docs["s3://bucket/chats.json"] = twoChatDocument(t)

		res, err := h.processor.Ingest(ctx, "s3://bucket/chats.json", json.RawMessage(`{"id":"evt"}`))
		require.NoError(t, err)
		assert.Equal(t, OutcomeIngested, res.Outcome)
		assert.Equal(t, chat.ShapeWrapper, res.Shape)
		assert.Equal(t, 2, res.Chats)
		assert.Equal(t, 1, res.SkippedChats)
		assert.Equal(t, 3, res.Units)
		assert.Equal(t, chat.LabelWork, res.Accessibility.Label)
		assert.InDelta(t, 0.95, res.Accessibility.Confidence, 1e-9)
		assert.NotEmpty(t, res.RunID)

		records := allRecords(t, h.store)
		require.Len(t, records, res.Chunks)
		require.Greater(t, res.Chunks, 3)

		perTurn := map[string][]int{}
		for _, r := range records {
			assert.Equal(t, "chat-1", r.Metadata[chat.KeyChatID])
			assert.Equal(t, "alice", r.Metadata[chat.KeyAccount])
			assert.Equal(t, chat.LabelWork, r.Metadata[chat.KeyAccessibility])
			assert.LessOrEqual(t, len([]rune(r.Text)), 150)
			turn := vector.MetaString(r.Metadata, chat.KeyTurnID)
			idx, ok := r.Metadata[chat.KeyChunkIndex].(int)
			require.True(t, ok)
			perTurn[turn] = append(perTurn[turn], idx)
			assert.Equal(t, chunking.ChunkID("chat-1", turn, idx), r.ID)
		}
		require.Len(t, perTurn, 3)
		for turn, idxs := range perTurn {
			sort.Ints(idxs)
			require.Greater(t, len(idxs), 1, turn)
			for i, idx := range idxs {
				assert.Equal(t, i, idx, turn)
			}
		}

		require.Len(t, h.ledger.runs, 1)
		assert.Equal(t, "ingested", h.ledger.runs[0].Outcome)
		assert.Equal(t, res.Chunks, h.ledger.runs[0].Chunks)
	})

	t.Run("ShouldBeIdempotentOnReingest", func(t *testing.T) {
		h := newHarness(t, memory.New())
		h.fetcher.docs["doc"] = twoChatDocument(t)

		first, err := h.processor.Ingest(ctx, "doc", nil)
		require.NoError(t, err)
		second, err := h.processor.Ingest(ctx, "doc", nil)
		require.NoError(t, err)
		assert.Equal(t, first.Chunks, second.Chunks)
		assert.Equal(t, first.Chunks, h.store.Len("chats"))
		assert.NotEqual(t, first.RunID, second.RunID)
	})

	t.Run("ShouldLabelPersonalBelowThreshold", func(t *testing.T) {
		h := newHarness(t, memory.New())
		h.classifier.work = 0.4
		h.fetcher.docs["doc"] = twoChatDocument(t)

		res, err := h.processor.Ingest(ctx, "doc", nil)
		require.NoError(t, err)
		assert.Equal(t, chat.LabelPersonal, res.Accessibility.Label)
		assert.InDelta(t, 0.6, res.Accessibility.Confidence, 1e-9)
		for _, r := range allRecords(t, h.store) {
			assert.Equal(t, chat.LabelPersonal, r.Metadata[chat.KeyAccessibility])
		}
	})

	t.Run("ShouldReportNoDocumentsWhenEveryChatLacksMessages", func(t *testing.T) {
		h := newHarness(t, memory.New())
		h.fetcher.docs["doc"] = `[{"chat_id":"a"},{"chat_id":"b","messages":null}]`

		res, err := h.processor.Ingest(ctx, "doc", nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoDocuments, res.Outcome)
		assert.Equal(t, 2, res.SkippedChats)
		assert.Equal(t, 0, h.store.Len("chats"))
	})

	t.Run("ShouldNotTouchTheIndexWhenNothingWasChunked", func(t *testing.T) {
		store := &ensureCountingStore{Store: memory.New()}
		h := newHarness(t, store)
		h.fetcher.docs["doc"] = `{"chat_id":"a","messages":[{"turn_id":1,"message":""}]}`

		res, err := h.processor.Ingest(ctx, "doc", nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoDocuments, res.Outcome)
		assert.Equal(t, 1, res.Units)
		assert.Equal(t, 0, store.ensured)

		h.fetcher.docs["doc"] = `{"chat_id":"a","messages":[{"turn_id":1,"message":"hello"}]}`
		_, err = h.processor.Ingest(ctx, "doc", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, store.ensured)
	})

	t.Run("ShouldFailWithSchemaError", func(t *testing.T) {
		h := newHarness(t, memory.New())
		h.fetcher.docs["doc"] = `{"conversations":[]}`

		res, err := h.processor.Ingest(ctx, "doc", nil)
		require.ErrorIs(t, err, chat.ErrSchema)
		assert.Equal(t, OutcomeNoDocuments, res.Outcome)
		require.Len(t, h.ledger.runs, 1)
		assert.Contains(t, h.ledger.runs[0].Error, "unrecognized chat document schema")
	})

	t.Run("ShouldStopBeforeFetchWhenClassificationFails", func(t *testing.T) {
		h := newHarness(t, memory.New())
		h.classifier.err = errors.Join(access.ErrClassification, errors.New("throttled"))

		res, err := h.processor.Ingest(ctx, "doc", nil)
		require.ErrorIs(t, err, access.ErrClassification)
		assert.Equal(t, OutcomeNoDocuments, res.Outcome)
		assert.Equal(t, 0, h.fetcher.calls)
	})

	t.Run("ShouldFailWithFetchError", func(t *testing.T) {
		h := newHarness(t, memory.New())
		res, err := h.processor.Ingest(ctx, "s3://bucket/missing.json", nil)
		require.ErrorIs(t, err, source.ErrFetch)
		assert.Equal(t, OutcomeNoDocuments, res.Outcome)
		assert.Equal(t, 1, h.classifier.calls)
	})

	t.Run("ShouldFailWithIndexErrorWhenStoreFails", func(t *testing.T) {
		h := newHarness(t, failingStore{Store: memory.New()})
		h.fetcher.docs["doc"] = twoChatDocument(t)

		res, err := h.processor.Ingest(ctx, "doc", nil)
		require.ErrorIs(t, err, vector.ErrIndex)
		assert.Equal(t, OutcomeNoDocuments, res.Outcome)
		assert.Equal(t, 0, res.Chunks)
	})
}
