// Package embedding provides text embedding via an external provider, with
// caching and a deterministic mock for tests.
package embedding

import "context"

// Mode distinguishes document embeddings from query embeddings. Providers
// may optimize differently per mode; the same model must be used for both
// sides of a retrieval, which is a caller responsibility.
type Mode string

const (
	// ModeDocument embeds corpus text at index build time.
	ModeDocument Mode = "document"
	// ModeQuery embeds a user query at retrieval time.
	ModeQuery Mode = "query"
)

// Embedder produces fixed-dimension vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string, mode Mode) ([]float32, error)
	// Dimensions is the provider's declared vector dimension, used for
	// zero-vector substitution before any successful call established one.
	Dimensions() int
	// Model identifies the embedding model, recorded in the index info so
	// mismatched build/query models are visible.
	Model() string
	Close() error
}
