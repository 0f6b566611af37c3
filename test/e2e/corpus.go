// Package e2e exercises the whole pipeline: pages in, chunk records on
// disk, a persisted index, and streamed answers out of the HTTP API.
package e2e

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
)

// corpusPages is a small scraped-page corpus with heading structure. Each
// section is long enough to survive the minimum-token filter at the bounds
// used by ingestCorpus.
var corpusPages = []models.Page{
	{
		URL:   "https://docs.example.com/getting-started",
		Title: "Getting Started",
		Content: "# Installation\n" +
			"Download the binary for your platform and place it on your PATH. " +
			"The service needs a configuration file describing where chunk records and index artifacts live.\n" +
			"# First Run\n" +
			"On first run the service builds its index from the chunk store. " +
			"Subsequent starts reuse the persisted index when the store content is unchanged.",
	},
	{
		URL:   "https://docs.example.com/operations",
		Title: "Operations Guide",
		Content: "# Monitoring\n" +
			"The status endpoint reports chunk counts, index metadata, and disk usage so operators can track growth over time.\n" +
			"# Rebuilds\n" +
			"An index rebuild can be requested over the API. Rebuilds are serialized and the fresh index is served without a restart.",
	},
	{
		URL:   "https://docs.example.com/faq",
		Title: "FAQ",
		Content: "Common questions about deployment, scaling, and data retention are collected here with short answers for each topic.",
	},
}

// ingestCorpus chunks corpusPages into a fresh dir store, applying the
// whole-page fallback for pages too short to produce any chunk.
func ingestCorpus(t *testing.T, chunkPath string) store.Store {
	t.Helper()
	st, err := store.NewStore("dir", chunkPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	c := chunker.NewChunker(40, 8, chunker.CountTokens)
	ctx := context.Background()
	for pageIdx := range corpusPages {
		page := &corpusPages[pageIdx]
		chunks := c.Chunk(page)
		if len(chunks) == 0 && strings.TrimSpace(page.Content) != "" {
			chunks = []*models.Chunk{models.NewChunk(page, 0, strings.TrimSpace(page.Content))}
		}
		for _, chk := range chunks {
			if err := st.WriteChunk(ctx, pageIdx, chk); err != nil {
				t.Fatal(err)
			}
		}
	}
	return st
}

// countingEmbedder wraps the deterministic embedder and counts Embed calls,
// so tests can assert that unchanged content costs zero embeddings.
type countingEmbedder struct {
	*embedding.MockEmbedder
	calls atomic.Int64
}

func newCountingEmbedder(dimensions int) *countingEmbedder {
	return &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(dimensions)}
}

func (e *countingEmbedder) Embed(ctx context.Context, text string, mode embedding.Mode) ([]float32, error) {
	e.calls.Add(1)
	return e.MockEmbedder.Embed(ctx, text, mode)
}
