// Package vector provides nearest-neighbor index implementations and a
// factory for creating them.
package vector

import (
	"context"
	"fmt"
)

// NoMatch is the sentinel ordinal a search backend may produce for an empty
// slot. Hits carrying it must be excluded from results.
const NoMatch = -1

// Hit is a single nearest-neighbor result. Index is the ordinal position of
// the vector, which equals the ordinal of its metadata record.
type Hit struct {
	Index    int
	Distance float64
}

// Index stores fixed-dimension vectors in insertion order and answers
// K-nearest-neighbor queries by L2 (Euclidean) distance, smaller meaning
// more similar.
type Index interface {
	Add(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*Hit, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeFlat uses in-memory brute-force L2 search over all vectors.
	// Exact, and fast enough for corpora in the tens of thousands.
	IndexTypeFlat IndexType = "flat"
)

// NewIndex creates a vector index of the specified type.
// Supported types: "flat" (default).
func NewIndex(indexType string, dimensions int) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "":
		return NewFlatIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: flat)", indexType)
	}
}
