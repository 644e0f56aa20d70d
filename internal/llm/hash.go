package llm

import (
	"context"
	"hash/fnv"
	"math"
)

// HashEmbedder produces deterministic unit vectors from an FNV hash of the
// text. It needs no network and is used for offline runs and tests.
type HashEmbedder struct {
	Dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{Dimension: dimension}
}

func (h *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, h.Dimension)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return hashVector(text, h.Dimension), nil
}

func hashVector(text string, dim int) []float32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(text))
	seed := f.Sum32()

	v := make([]float32, dim)
	var sum float64
	for i := range v {
		seed = seed*1664525 + 1013904223
		v[i] = float32(seed%2000)/1000 - 1
		sum += float64(v[i]) * float64(v[i])
	}
	if sum > 0 {
		norm := float32(1 / math.Sqrt(sum))
		for i := range v {
			v[i] *= norm
		}
	}
	return v
}
