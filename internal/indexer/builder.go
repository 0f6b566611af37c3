// Package indexer builds the persisted nearest-neighbor index from the
// chunk store, skipping the build entirely when nothing changed.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/fingerprint"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
)

// ErrNoChunks is returned when a build is requested against an empty chunk
// store.
var ErrNoChunks = errors.New("chunk store holds no chunks")

// Defaults for the build step.
const (
	DefaultBatchSize = 16
	DefaultWorkers   = 4
)

// BuiltIndex is a freshly built or freshly loaded index, ready for querying
// without a reload. Index and Metas are parallel: vector i belongs to
// metadata record i.
type BuiltIndex struct {
	Index *vector.FlatIndex
	Metas []models.ChunkMeta
	Info  models.IndexInfo
}

// Builder builds and persists the index triple (vectors, metadata, info).
type Builder struct {
	store     store.Store
	embedder  embedding.Embedder
	artifacts fingerprint.Artifacts
	batchSize int
	workers   int
	logger    *zap.Logger

	// buildMu serializes builds. Concurrent builds would interleave
	// renames over the shared artifact paths and could commit one build's
	// index with another's metadata.
	buildMu sync.Mutex
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets a logger for build progress and per-item failures.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithBatchSize sets the embedding batch size.
func WithBatchSize(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithWorkers bounds the number of concurrent embedding workers.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// NewBuilder creates a builder over the given chunk store, embedder, and
// artifact paths.
func NewBuilder(s store.Store, e embedding.Embedder, art fingerprint.Artifacts, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:     s,
		embedder:  e,
		artifacts: art,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the current index. When force is false and the persisted
// index matches the chunk store's fingerprint, the persisted triple is
// loaded and returned with zero embedding calls. Otherwise every chunk is
// embedded (per-item failures substitute a zero vector) and the triple is
// persisted atomically before returning.
//
// Builds are serialized: concurrent callers queue rather than race over the
// artifact paths.
func (b *Builder) Build(ctx context.Context, force bool) (*BuiltIndex, error) {
	b.buildMu.Lock()
	defer b.buildMu.Unlock()

	current, err := fingerprint.Compute(ctx, b.store)
	if err != nil {
		return nil, err
	}

	if !force && !fingerprint.ShouldRebuild(b.artifacts, current) {
		built, err := b.loadExisting()
		if err == nil {
			return built, nil
		}
		// Persisted state unreadable or inconsistent; rebuild instead of
		// serving it.
		if b.logger != nil {
			b.logger.Warn("persisted index unusable, rebuilding", zap.Error(err))
		}
	}

	records, err := b.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoChunks
	}
	if b.logger != nil {
		b.logger.Info("building index", zap.Int("chunks", len(records)))
	}

	vectors := b.embedAll(ctx, records)
	dim := b.resolveDimension(vectors)
	for i, v := range vectors {
		if len(v) != dim {
			if v != nil && b.logger != nil {
				b.logger.Warn("vector dimension mismatch, substituting zero vector",
					zap.Int("position", i), zap.Int("got", len(v)), zap.Int("want", dim))
			}
			vectors[i] = make([]float32, dim)
		}
	}

	idx, err := vector.NewFlatIndex(dim)
	if err != nil {
		return nil, err
	}
	if err := idx.Add(ctx, vectors); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	metas := make([]models.ChunkMeta, len(records))
	for i, rec := range records {
		metas[i] = models.ChunkMeta{
			Text:      rec.Chunk.Text,
			URL:       rec.Chunk.URL,
			Title:     rec.Chunk.Title,
			Position:  rec.Chunk.Position,
			Checksum:  rec.Chunk.Checksum,
			Filename:  rec.Name,
			IndexedAt: now,
		}
	}
	info := models.IndexInfo{
		ContentHash: current,
		ChunkCount:  len(records),
		Model:       b.embedder.Model(),
		IndexedAt:   now,
	}

	if err := b.persist(idx, metas, info); err != nil {
		return nil, err
	}
	if b.logger != nil {
		b.logger.Info("index built", zap.Int("vectors", idx.Size()), zap.Int("dimensions", dim))
	}
	return &BuiltIndex{Index: idx, Metas: metas, Info: info}, nil
}

// embedAll embeds every record's text, preserving record order in the
// result regardless of worker completion order. A failed item leaves a nil
// slot for later zero-vector substitution.
func (b *Builder) embedAll(ctx context.Context, records []store.Record) [][]float32 {
	vectors := make([][]float32, len(records))

	type batch struct {
		start int
		end   int
	}
	batches := make(chan batch)
	var wg sync.WaitGroup
	for w := 0; w < b.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for bt := range batches {
				for i := bt.start; i < bt.end; i++ {
					vec, err := b.embedder.Embed(ctx, records[i].Chunk.Text, embedding.ModeDocument)
					if err != nil {
						if b.logger != nil {
							b.logger.Warn("embedding failed, will substitute zero vector",
								zap.String("record", records[i].Name), zap.Error(err))
						}
						continue
					}
					vectors[i] = vec
				}
			}
		}()
	}
	for start := 0; start < len(records); start += b.batchSize {
		end := start + b.batchSize
		if end > len(records) {
			end = len(records)
		}
		batches <- batch{start: start, end: end}
	}
	close(batches)
	wg.Wait()
	return vectors
}

// resolveDimension picks the index dimension: the first successful embedding
// in record order, or the provider's declared default when every call
// failed.
func (b *Builder) resolveDimension(vectors [][]float32) int {
	for _, v := range vectors {
		if len(v) > 0 {
			return len(v)
		}
	}
	return b.embedder.Dimensions()
}

// loadExisting loads the persisted triple and checks it for internal
// consistency.
func (b *Builder) loadExisting() (*BuiltIndex, error) {
	info, err := fingerprint.LoadInfo(b.artifacts.InfoPath)
	if err != nil {
		return nil, err
	}
	metas, err := LoadMetas(b.artifacts.MetaPath)
	if err != nil {
		return nil, err
	}
	idx, err := vector.LoadFlat(b.artifacts.IndexPath)
	if err != nil {
		return nil, err
	}
	if idx.Size() != len(metas) {
		return nil, fmt.Errorf("index holds %d vectors but metadata lists %d records", idx.Size(), len(metas))
	}
	return &BuiltIndex{Index: idx, Metas: metas, Info: *info}, nil
}
