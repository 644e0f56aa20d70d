// Package memory is an in-process vector.Store used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/chatrag/backend/internal/vector"
)

type index struct {
	spec    vector.IndexSpec
	records map[string]vector.Record
}

type Store struct {
	mu      sync.RWMutex
	indexes map[string]*index
}

func New() *Store {
	return &Store{indexes: make(map[string]*index)}
}

func (s *Store) EnsureIndex(_ context.Context, spec vector.IndexSpec) error {
	if spec.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", vector.ErrIndex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.indexes[spec.Name]; ok {
		if existing.spec.Dimension != spec.Dimension {
			return fmt.Errorf("%w: index %s has dimension %d, want %d",
				vector.ErrIndex, spec.Name, existing.spec.Dimension, spec.Dimension)
		}
		return nil
	}
	s.indexes[spec.Name] = &index{spec: spec, records: make(map[string]vector.Record)}
	return nil
}

func (s *Store) Upsert(_ context.Context, name string, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[name]
	if !ok {
		return fmt.Errorf("%w: index %s does not exist", vector.ErrIndex, name)
	}
	for _, r := range records {
		if len(r.Vector) != idx.spec.Dimension {
			return fmt.Errorf("%w: record %s has %d dimensions, want %d",
				vector.ErrIndex, r.ID, len(r.Vector), idx.spec.Dimension)
		}
	}
	for _, r := range records {
		md := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
		idx.records[r.ID] = r
	}
	return nil
}

func (s *Store) Search(_ context.Context, name string, query []float32, k int, filter vector.Filter) ([]vector.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: index %s does not exist", vector.ErrRetrieval, name)
	}
	if len(query) != idx.spec.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			vector.ErrRetrieval, len(query), idx.spec.Dimension)
	}
	if k <= 0 {
		return []vector.Match{}, nil
	}

	matches := make([]vector.Match, 0, len(idx.records))
	for _, r := range idx.records {
		if !matchesFilter(r.Metadata, filter) {
			continue
		}
		matches = append(matches, vector.Match{
			ID:       r.ID,
			Score:    score(idx.spec.Metric, query, r.Vector),
			Text:     r.Text,
			Metadata: r.Metadata,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Store) Close() error { return nil }

// Len reports how many records an index holds.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx, ok := s.indexes[name]; ok {
		return len(idx.records)
	}
	return 0
}

func matchesFilter(md map[string]any, filter vector.Filter) bool {
	for key, want := range filter {
		if vector.MetaString(md, key) != want {
			return false
		}
	}
	return true
}

// score is oriented so that larger is always more relevant.
func score(metric vector.Metric, a, b []float32) float32 {
	var dot, na, nb, dist float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
		dist += (x - y) * (x - y)
	}
	switch metric {
	case vector.MetricIP:
		return float32(dot)
	case vector.MetricL2:
		return float32(-dist)
	default:
		if na == 0 || nb == 0 {
			return 0
		}
		return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
	}
}
