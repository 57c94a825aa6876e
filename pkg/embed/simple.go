package embed

import (
	"context"
	"math"
	"strings"
)

// Simple is a deterministic local embedder: a normalized character-bucket
// vector. Useful for tests and for running the system offline; the vectors
// carry only crude lexical signal, not semantics.
type Simple struct {
	dim int
}

// NewSimple creates a local embedder producing vectors of the given
// dimension.
func NewSimple(dimension int) *Simple {
	if dimension <= 0 {
		dimension = 64
	}
	return &Simple{dim: dimension}
}

// Embed produces a deterministic unit-length vector from text.
func (e *Simple) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, e.dim)
	for i, char := range text {
		vec[(i+int(char))%e.dim] += float32(char) / 1000.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// Dim returns the configured vector dimension.
func (e *Simple) Dim() int {
	return e.dim
}
