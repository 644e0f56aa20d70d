// Package vector defines the contract between the pipeline and the vector
// database holding chunk embeddings.
package vector

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIndex     = errors.New("index write failed")
	ErrRetrieval = errors.New("retrieval failed")
)

type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
	MetricIP     Metric = "ip"
)

// ParseMetric accepts the names used by hosted vector databases; "dot" and
// "dotproduct" are aliases for inner product, "euclidean" for l2.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return MetricCosine, nil
	case "l2", "euclidean":
		return MetricL2, nil
	case "ip", "dot", "dotproduct":
		return MetricIP, nil
	}
	return "", fmt.Errorf("unsupported metric %q", s)
}

type IndexSpec struct {
	Name      string
	Dimension int
	Metric    Metric
}

// Record is one chunk ready for upsert. Metadata values are strings or ints.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// Match is one retrieved candidate. Higher Score is more relevant.
type Match struct {
	ID       string
	Score    float32
	Text     string
	Metadata map[string]any
}

// Filter is an equality constraint on metadata fields. An empty filter
// matches everything.
type Filter map[string]string

type Store interface {
	EnsureIndex(ctx context.Context, spec IndexSpec) error
	Upsert(ctx context.Context, index string, records []Record) error
	Search(ctx context.Context, index string, query []float32, k int, filter Filter) ([]Match, error)
	Close() error
}

// MetaString reads a metadata value as a string, returning "" for absent keys.
func MetaString(md map[string]any, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
