// Package milvus stores chunk embeddings in a Milvus or Zilliz Cloud collection.
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/chat"
	"github.com/chatrag/backend/internal/vector"
	"github.com/chatrag/backend/pkg/logger"
)

const (
	vectorField = "embedding"
	nlist       = 1024
	nprobe      = 16
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
)

type payloadField struct {
	name   string
	kind   fieldKind
	maxLen int
}

// payloadFields is the scalar schema of a chunk collection, in column order.
// The primary key (chunk_id) and the vector are handled separately.
var payloadFields = []payloadField{
	{name: chat.KeyText, kind: kindString, maxLen: 8192},
	{name: chat.KeyEngine, kind: kindString, maxLen: 128},
	{name: chat.KeyAccount, kind: kindString, maxLen: 256},
	{name: chat.KeyChatID, kind: kindString, maxLen: 256},
	{name: chat.KeyTitle, kind: kindString, maxLen: 1024},
	{name: chat.KeyCreationTime, kind: kindString, maxLen: 64},
	{name: chat.KeyTurnID, kind: kindString, maxLen: 128},
	{name: chat.KeyAuthor, kind: kindString, maxLen: 128},
	{name: chat.KeyTurnTimestamp, kind: kindString, maxLen: 64},
	{name: chat.KeyAccessibility, kind: kindString, maxLen: 32},
	{name: chat.KeyAccessScore, kind: kindFloat},
	{name: chat.KeyChunkIndex, kind: kindInt},
}

type Store struct {
	client client.Client
	// fallback is used for collections whose index metric cannot be read.
	fallback vector.Metric

	mu     sync.RWMutex
	metric map[string]vector.Metric
}

// New connects to Milvus. fallback is the configured metric, used when a
// collection's index cannot be described.
func New(ctx context.Context, endpoint, apiKey string, fallback vector.Metric) (*Store, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized", zap.String("endpoint", endpoint))

	return newStore(c, fallback), nil
}

func newStore(c client.Client, fallback vector.Metric) *Store {
	if fallback == "" {
		fallback = vector.MetricCosine
	}
	return &Store{client: c, fallback: fallback, metric: make(map[string]vector.Metric)}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) EnsureIndex(ctx context.Context, spec vector.IndexSpec) error {
	metricType, err := metricType(spec.Metric)
	if err != nil {
		return fmt.Errorf("%w: %w", vector.ErrIndex, err)
	}
	s.mu.Lock()
	s.metric[spec.Name] = spec.Metric
	s.mu.Unlock()

	has, err := s.client.HasCollection(ctx, spec.Name)
	if err != nil {
		return fmt.Errorf("%w: check collection %s: %w", vector.ErrIndex, spec.Name, err)
	}
	if has {
		logger.Debug("Collection already exists", zap.String("collection", spec.Name))
		return nil
	}

	if err := s.client.CreateCollection(ctx, buildSchema(spec), entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("%w: create collection %s: %w", vector.ErrIndex, spec.Name, err)
	}

	idx, err := entity.NewIndexIvfFlat(metricType, nlist)
	if err != nil {
		return fmt.Errorf("%w: build index params: %w", vector.ErrIndex, err)
	}
	if err := s.client.CreateIndex(ctx, spec.Name, vectorField, idx, false); err != nil {
		return fmt.Errorf("%w: create index on %s: %w", vector.ErrIndex, spec.Name, err)
	}

	if err := s.client.LoadCollection(ctx, spec.Name, false); err != nil {
		return fmt.Errorf("%w: load collection %s: %w", vector.ErrIndex, spec.Name, err)
	}

	logger.Info("Collection created and loaded",
		zap.String("collection", spec.Name),
		zap.Int("dimension", spec.Dimension),
		zap.String("metric", string(spec.Metric)),
	)
	return nil
}

func (s *Store) Upsert(ctx context.Context, index string, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	columns, err := buildColumns(records)
	if err != nil {
		return fmt.Errorf("%w: %w", vector.ErrIndex, err)
	}

	if _, err := s.client.Upsert(ctx, index, "", columns...); err != nil {
		return fmt.Errorf("%w: upsert into %s: %w", vector.ErrIndex, index, err)
	}
	if err := s.client.Flush(ctx, index, false); err != nil {
		return fmt.Errorf("%w: flush %s: %w", vector.ErrIndex, index, err)
	}

	logger.Info("Chunks upserted into vector DB",
		zap.String("collection", index),
		zap.Int("count", len(records)),
	)
	return nil
}

func (s *Store) Search(ctx context.Context, index string, query []float32, k int, filter vector.Filter) ([]vector.Match, error) {
	metric := s.metricFor(ctx, index)
	mt, err := metricType(metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrRetrieval, err)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(nprobe)
	if err != nil {
		return nil, fmt.Errorf("%w: build search params: %w", vector.ErrRetrieval, err)
	}

	expr := filterExpr(filter)
	results, err := s.client.Search(
		ctx,
		index,
		[]string{},
		expr,
		outputFields(),
		[]entity.Vector{entity.FloatVector(query)},
		vectorField,
		mt,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %w", vector.ErrRetrieval, index, err)
	}

	matches := make([]vector.Match, 0, k)
	for _, sr := range results {
		got, err := toMatches(sr.ResultCount, sr.Scores, sr.Fields.GetColumn, metric)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", vector.ErrRetrieval, err)
		}
		matches = append(matches, got...)
	}

	logger.Info("Vector search completed",
		zap.Int("topK", k),
		zap.Int("results", len(matches)),
		zap.String("filter", expr),
	)
	return matches, nil
}

// metricFor returns the metric the collection was indexed with. A process
// that only queries never runs EnsureIndex, so the index is described once and
// cached.
func (s *Store) metricFor(ctx context.Context, index string) vector.Metric {
	s.mu.RLock()
	metric, ok := s.metric[index]
	s.mu.RUnlock()
	if ok {
		return metric
	}

	indexes, err := s.client.DescribeIndex(ctx, index, vectorField)
	if err != nil {
		logger.Warn("Failed to describe index, using configured metric",
			zap.String("collection", index),
			zap.String("metric", string(s.fallback)),
			zap.Error(err),
		)
		return s.fallback
	}

	metric = s.fallback
	for _, idx := range indexes {
		if m, ok := metricFromType(idx.Params()["metric_type"]); ok {
			metric = m
			break
		}
	}

	s.mu.Lock()
	s.metric[index] = metric
	s.mu.Unlock()
	return metric
}

func metricFromType(t string) (vector.Metric, bool) {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case string(entity.COSINE):
		return vector.MetricCosine, true
	case string(entity.L2):
		return vector.MetricL2, true
	case string(entity.IP):
		return vector.MetricIP, true
	}
	return "", false
}

func metricType(m vector.Metric) (entity.MetricType, error) {
	switch m {
	case vector.MetricCosine, "":
		return entity.COSINE, nil
	case vector.MetricL2:
		return entity.L2, nil
	case vector.MetricIP:
		return entity.IP, nil
	}
	return "", fmt.Errorf("unsupported metric %q", m)
}

func buildSchema(spec vector.IndexSpec) *entity.Schema {
	fields := []*entity.Field{
		{
			Name:       chat.KeyChunkID,
			DataType:   entity.FieldTypeVarChar,
			PrimaryKey: true,
			AutoID:     false,
			TypeParams: map[string]string{"max_length": "512"},
		},
		{
			Name:       vectorField,
			DataType:   entity.FieldTypeFloatVector,
			TypeParams: map[string]string{"dim": strconv.Itoa(spec.Dimension)},
		},
	}
	for _, pf := range payloadFields {
		f := &entity.Field{Name: pf.name}
		switch pf.kind {
		case kindString:
			f.DataType = entity.FieldTypeVarChar
			f.TypeParams = map[string]string{"max_length": strconv.Itoa(pf.maxLen)}
		case kindInt:
			f.DataType = entity.FieldTypeInt64
		case kindFloat:
			f.DataType = entity.FieldTypeDouble
		}
		fields = append(fields, f)
	}
	return &entity.Schema{
		CollectionName: spec.Name,
		Description:    "chat transcript chunk embeddings",
		Fields:         fields,
	}
}

func buildColumns(records []vector.Record) ([]entity.Column, error) {
	dim := len(records[0].Vector)
	ids := make([]string, len(records))
	vectors := make([][]float32, len(records))
	strs := make(map[string][]string)
	ints := make(map[string][]int64)
	floats := make(map[string][]float64)

	for i, r := range records {
		if len(r.Vector) != dim {
			return nil, fmt.Errorf("record %s has %d dimensions, want %d", r.ID, len(r.Vector), dim)
		}
		ids[i] = r.ID
		vectors[i] = r.Vector
		for _, pf := range payloadFields {
			raw := r.Metadata[pf.name]
			if pf.name == chat.KeyText {
				raw = r.Text
			}
			switch pf.kind {
			case kindString:
				strs[pf.name] = append(strs[pf.name], toString(raw))
			case kindInt:
				n, err := toInt64(raw)
				if err != nil {
					return nil, fmt.Errorf("record %s field %s: %w", r.ID, pf.name, err)
				}
				ints[pf.name] = append(ints[pf.name], n)
			case kindFloat:
				f, err := toFloat64(raw)
				if err != nil {
					return nil, fmt.Errorf("record %s field %s: %w", r.ID, pf.name, err)
				}
				floats[pf.name] = append(floats[pf.name], f)
			}
		}
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(chat.KeyChunkID, ids),
		entity.NewColumnFloatVector(vectorField, dim, vectors),
	}
	for _, pf := range payloadFields {
		switch pf.kind {
		case kindString:
			columns = append(columns, entity.NewColumnVarChar(pf.name, strs[pf.name]))
		case kindInt:
			columns = append(columns, entity.NewColumnInt64(pf.name, ints[pf.name]))
		case kindFloat:
			columns = append(columns, entity.NewColumnDouble(pf.name, floats[pf.name]))
		}
	}
	return columns, nil
}

// filterExpr renders an equality filter as a boolean expression with keys in
// schema order, so the same filter always yields the same expression.
func filterExpr(filter vector.Filter) string {
	var clauses []string
	for _, pf := range payloadFields {
		if v, ok := filter[pf.name]; ok && pf.kind == kindString {
			clauses = append(clauses, fmt.Sprintf("%s == %s", pf.name, strconv.Quote(v)))
		}
	}
	if v, ok := filter[chat.KeyChunkID]; ok {
		clauses = append(clauses, fmt.Sprintf("%s == %s", chat.KeyChunkID, strconv.Quote(v)))
	}
	return strings.Join(clauses, " && ")
}

func outputFields() []string {
	out := []string{chat.KeyChunkID}
	for _, pf := range payloadFields {
		out = append(out, pf.name)
	}
	return out
}

func toMatches(count int, scores []float32, column func(string) entity.Column, metric vector.Metric) ([]vector.Match, error) {
	idCol := column(chat.KeyChunkID)
	if idCol == nil {
		return nil, fmt.Errorf("search result is missing %s", chat.KeyChunkID)
	}

	matches := make([]vector.Match, 0, count)
	for i := 0; i < count; i++ {
		raw, err := idCol.Get(i)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", chat.KeyChunkID, err)
		}
		id := fmt.Sprint(raw)

		md := map[string]any{chat.KeyChunkID: id}
		for _, pf := range payloadFields {
			col := column(pf.name)
			if col == nil {
				continue
			}
			v, err := col.Get(i)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", pf.name, err)
			}
			if pf.kind == kindInt {
				if n, ok := v.(int64); ok {
					v = int(n)
				}
			}
			md[pf.name] = v
		}

		score := float32(0)
		if i < len(scores) {
			score = scores[i]
		}
		if metric == vector.MetricL2 {
			score = -score
		}

		text := vector.MetaString(md, chat.KeyText)
		delete(md, chat.KeyText)
		matches = append(matches, vector.Match{ID: id, Score: score, Text: text, Metadata: md})
	}
	return matches, nil
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unsupported integer value %T", v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("unsupported float value %T", v)
}
