// Package search retrieves the nearest chunks for a query from the
// persisted index.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/fingerprint"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
)

// ErrIndexNotFound signals that no persisted index exists yet. Callers use
// it to distinguish "nothing to search" from a broken search.
var ErrIndexNotFound = errors.New("index not found")

// Defaults for result shaping.
const (
	DefaultMaxTopK        = 20
	DefaultMaxResultChars = 1500
)

// Snapshot is one complete, immutable view of the index: vectors, parallel
// metadata, and the info record they were persisted with. Queries run
// against exactly one snapshot; a rebuild installs a new one atomically.
type Snapshot struct {
	Index *vector.FlatIndex
	Metas []models.ChunkMeta
	Info  models.IndexInfo
}

// Retriever answers K-nearest-neighbor queries over the current snapshot,
// loading it from the persisted artifacts on first use.
type Retriever struct {
	embedder       embedding.Embedder
	artifacts      fingerprint.Artifacts
	maxTopK        int
	maxResultChars int
	logger         *zap.Logger

	snapshot atomic.Pointer[Snapshot]
	loadMu   sync.Mutex
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithLogger sets a logger for retrieval debug output.
func WithLogger(l *zap.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

// WithMaxTopK caps the number of results a single query may request.
func WithMaxTopK(n int) RetrieverOption {
	return func(r *Retriever) {
		if n > 0 {
			r.maxTopK = n
		}
	}
}

// WithMaxResultChars bounds the text carried by each result. The stored
// metadata is never mutated; this is a view applied per query.
func WithMaxResultChars(n int) RetrieverOption {
	return func(r *Retriever) {
		if n > 0 {
			r.maxResultChars = n
		}
	}
}

// NewRetriever creates a retriever over the given embedder and artifact
// paths. The query embedder must use the same model the index was built
// with; mismatched models silently degrade relevance.
func NewRetriever(e embedding.Embedder, art fingerprint.Artifacts, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder:       e,
		artifacts:      art,
		maxTopK:        DefaultMaxTopK,
		maxResultChars: DefaultMaxResultChars,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Install replaces the current snapshot. Called after a successful build so
// queries switch to the new index without a reload; in-flight queries keep
// the snapshot they started with.
func (r *Retriever) Install(snap *Snapshot) {
	r.snapshot.Store(snap)
}

// Current returns the installed snapshot, or nil when none is loaded yet.
func (r *Retriever) Current() *Snapshot {
	return r.snapshot.Load()
}

// Retrieve embeds the query and returns up to topK nearest chunks ordered
// by ascending L2 distance, each with rank and a bounded metadata view.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error) {
	snap, err := r.ensureSnapshot()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = models.DefaultTopK
	}
	if topK > r.maxTopK {
		topK = r.maxTopK
	}

	queryVec, err := r.embedder.Embed(ctx, query, embedding.ModeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := snap.Index.Search(ctx, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]models.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Index == vector.NoMatch || hit.Index >= len(snap.Metas) {
			continue
		}
		meta := snap.Metas[hit.Index]
		full := meta.Text
		meta.Text = truncate(meta.Text, r.maxResultChars)
		results = append(results, models.RetrievalResult{
			Rank:     len(results) + 1,
			Distance: hit.Distance,
			Meta:     meta,
			FullText: full,
		})
	}
	if r.logger != nil {
		r.logger.Debug("retrieved chunks", zap.String("query", query), zap.Int("results", len(results)))
	}
	return results, nil
}

// ensureSnapshot returns the installed snapshot, loading the persisted
// artifacts once when none is installed.
func (r *Retriever) ensureSnapshot() (*Snapshot, error) {
	if snap := r.snapshot.Load(); snap != nil {
		return snap, nil
	}
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if snap := r.snapshot.Load(); snap != nil {
		return snap, nil
	}

	for _, p := range []string{r.artifacts.IndexPath, r.artifacts.MetaPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, p)
		}
	}
	info, err := fingerprint.LoadInfo(r.artifacts.InfoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexNotFound, err)
	}
	metas, err := indexer.LoadMetas(r.artifacts.MetaPath)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	idx, err := vector.LoadFlat(r.artifacts.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	if idx.Size() != len(metas) {
		return nil, fmt.Errorf("index holds %d vectors but metadata lists %d records", idx.Size(), len(metas))
	}
	snap := &Snapshot{Index: idx, Metas: metas, Info: *info}
	r.snapshot.Store(snap)
	return snap, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
