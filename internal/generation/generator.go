// Package generation wraps the streaming text-generation provider.
package generation

import "context"

// Stream yields incremental text fragments of one generated answer.
// Recv returns io.EOF after the final fragment; any other error terminates
// the stream and no further fragments follow. Close releases the provider
// connection and is safe to call at any point.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Generator opens answer streams against the text-generation provider.
// A generator fails as a whole per stream, never per fragment.
type Generator interface {
	GenerateStream(ctx context.Context, prompt string) (Stream, error)
	Model() string
}
