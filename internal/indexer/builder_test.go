package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/fingerprint"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/vector"
)

// flakyEmbedder wraps the mock embedder, failing for configured texts and
// counting every call.
type flakyEmbedder struct {
	*embedding.MockEmbedder
	failTexts map[string]bool
	failAll   bool

	mu    sync.Mutex
	calls int
}

func newFlakyEmbedder(dims int) *flakyEmbedder {
	return &flakyEmbedder{
		MockEmbedder: embedding.NewMockEmbedder(dims),
		failTexts:    make(map[string]bool),
	}
}

func (e *flakyEmbedder) Embed(ctx context.Context, text string, mode embedding.Mode) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.failAll || e.failTexts[text] {
		return nil, errors.New("provider unavailable")
	}
	return e.MockEmbedder.Embed(ctx, text, mode)
}

func (e *flakyEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func testSetup(t *testing.T, texts ...string) (*store.DirStore, fingerprint.Artifacts) {
	t.Helper()
	s, err := store.NewDirStore(filepath.Join(t.TempDir(), "chunks"))
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	page := &models.Page{URL: "https://example.com", Title: "Example"}
	for i, text := range texts {
		if err := s.WriteChunk(context.Background(), 0, models.NewChunk(page, i, text)); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}
	artDir := t.TempDir()
	art := fingerprint.Artifacts{
		IndexPath: filepath.Join(artDir, "index.bin"),
		MetaPath:  filepath.Join(artDir, "meta.json"),
		InfoPath:  filepath.Join(artDir, "info.json"),
	}
	return s, art
}

func TestBuild_CreatesArtifacts(t *testing.T) {
	ctx := context.Background()
	s, art := testSetup(t, "first chunk", "second chunk", "third chunk")
	e := newFlakyEmbedder(8)
	b := NewBuilder(s, e, art)

	built, err := b.Build(ctx, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if built.Index.Size() != 3 {
		t.Errorf("index size = %d, want 3", built.Index.Size())
	}
	if len(built.Metas) != built.Index.Size() {
		t.Errorf("metadata count %d != index size %d", len(built.Metas), built.Index.Size())
	}
	if built.Info.ChunkCount != 3 {
		t.Errorf("info chunk count = %d", built.Info.ChunkCount)
	}
	if built.Info.Model != "mock-embedder" {
		t.Errorf("info model = %s", built.Info.Model)
	}
	current, _ := fingerprint.Compute(ctx, s)
	if built.Info.ContentHash != current {
		t.Error("info fingerprint does not match store fingerprint")
	}
	for _, p := range []string{art.IndexPath, art.MetaPath, art.InfoPath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact missing: %s", p)
		}
		if _, err := os.Stat(p + ".tmp"); !os.IsNotExist(err) {
			t.Errorf("temp artifact left behind: %s.tmp", p)
		}
	}
	// Metadata preserves store order and chunk fields.
	if built.Metas[0].Filename != store.RecordName(0, 0) {
		t.Errorf("meta 0 filename = %s", built.Metas[0].Filename)
	}
	if built.Metas[1].Text != "second chunk" {
		t.Errorf("meta 1 text = %q", built.Metas[1].Text)
	}
	if fingerprint.ShouldRebuild(art, current) {
		t.Error("freshly built index reported stale")
	}
}

func TestBuild_SkipsWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	s, art := testSetup(t, "a chunk", "b chunk")
	e := newFlakyEmbedder(8)
	b := NewBuilder(s, e, art)

	if _, err := b.Build(ctx, false); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	callsAfterFirst := e.callCount()

	built, err := b.Build(ctx, false)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if e.callCount() != callsAfterFirst {
		t.Errorf("unchanged rebuild issued %d extra embedding calls", e.callCount()-callsAfterFirst)
	}
	if built.Index.Size() != 2 || len(built.Metas) != 2 {
		t.Errorf("loaded index wrong shape: %d vectors, %d metas", built.Index.Size(), len(built.Metas))
	}
}

func TestBuild_RebuildsOnStoreChange(t *testing.T) {
	ctx := context.Background()
	s, art := testSetup(t, "a chunk")
	e := newFlakyEmbedder(8)
	b := NewBuilder(s, e, art)

	if _, err := b.Build(ctx, false); err != nil {
		t.Fatalf("Build: %v", err)
	}
	before := e.callCount()

	page := &models.Page{URL: "https://example.com", Title: "Example"}
	if err := s.WriteChunk(ctx, 1, models.NewChunk(page, 0, "new chunk")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	built, err := b.Build(ctx, false)
	if err != nil {
		t.Fatalf("Build after change: %v", err)
	}
	if e.callCount() <= before {
		t.Error("expected re-embedding after store change")
	}
	if built.Index.Size() != 2 {
		t.Errorf("index size = %d, want 2", built.Index.Size())
	}
}

func TestBuild_ForceRebuilds(t *testing.T) {
	ctx := context.Background()
	s, art := testSetup(t, "a chunk")
	e := newFlakyEmbedder(8)
	b := NewBuilder(s, e, art)

	if _, err := b.Build(ctx, false); err != nil {
		t.Fatalf("Build: %v", err)
	}
	before := e.callCount()
	if _, err := b.Build(ctx, true); err != nil {
		t.Fatalf("forced Build: %v", err)
	}
	if e.callCount() <= before {
		t.Error("force=true should re-embed")
	}
}

func TestBuild_PerItemFailureSubstitutesZeroVector(t *testing.T) {
	ctx := context.Background()
	s, art := testSetup(t, "good one", "bad apple", "good two")
	e := newFlakyEmbedder(8)
	e.failTexts["bad apple"] = true
	b := NewBuilder(s, e, art)

	built, err := b.Build(ctx, false)
	if err != nil {
		t.Fatalf("Build should absorb per-item failures: %v", err)
	}
	if built.Index.Size() != 3 {
		t.Fatalf("index size = %d, want 3", built.Index.Size())
	}
	// The failed slot holds the zero vector: it alone has distance 0 from
	// the origin, while mock embeddings are unit length.
	origin := make([]float32, 8)
	hits, err := built.Index.Search(ctx, origin, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[0].Index != 1 || hits[0].Distance != 0 {
		t.Errorf("expected zero vector at position 1, top hit %+v", hits[0])
	}
}

func TestBuild_AllFailuresUseDeclaredDimension(t *testing.T) {
	ctx := context.Background()
	s, art := testSetup(t, "one", "two")
	e := newFlakyEmbedder(7)
	e.failAll = true
	b := NewBuilder(s, e, art)

	built, err := b.Build(ctx, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if built.Index.Dimensions() != 7 {
		t.Errorf("dimensions = %d, want provider default 7", built.Index.Dimensions())
	}
	if built.Index.Size() != 2 {
		t.Errorf("index size = %d, want 2", built.Index.Size())
	}
}

func TestBuild_EmptyStore(t *testing.T) {
	s, art := testSetup(t)
	b := NewBuilder(s, newFlakyEmbedder(8), art)
	if _, err := b.Build(context.Background(), false); !errors.Is(err, ErrNoChunks) {
		t.Errorf("expected ErrNoChunks, got %v", err)
	}
}

func TestBuild_CorruptMetadataForcesRebuild(t *testing.T) {
	ctx := context.Background()
	s, art := testSetup(t, "a chunk")
	e := newFlakyEmbedder(8)
	b := NewBuilder(s, e, art)

	if _, err := b.Build(ctx, false); err != nil {
		t.Fatalf("Build: %v", err)
	}
	before := e.callCount()
	if err := os.WriteFile(art.MetaPath, []byte("{corrupt"), 0644); err != nil {
		t.Fatalf("corrupt meta: %v", err)
	}
	built, err := b.Build(ctx, false)
	if err != nil {
		t.Fatalf("Build over corrupt metadata: %v", err)
	}
	if e.callCount() <= before {
		t.Error("corrupt metadata should trigger a rebuild, not be served")
	}
	if len(built.Metas) != built.Index.Size() {
		t.Error("rebuild did not restore parallel arrays")
	}
}

func TestBuild_ManyChunksOrderPreserved(t *testing.T) {
	// More chunks than batch size * workers, to exercise the pool; vector i
	// must still correspond to record i.
	ctx := context.Background()
	texts := make([]string, 40)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk number %d with some padding text", i)
	}
	s, art := testSetup(t, texts...)
	e := newFlakyEmbedder(8)
	b := NewBuilder(s, e, art, WithBatchSize(4), WithWorkers(3))

	built, err := b.Build(ctx, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if built.Index.Size() != 40 || len(built.Metas) != 40 {
		t.Fatalf("wrong shape: %d vectors, %d metas", built.Index.Size(), len(built.Metas))
	}
	for i, meta := range built.Metas {
		if meta.Text != texts[i] {
			t.Fatalf("meta %d out of order: %q", i, meta.Text)
		}
	}
	// Each stored vector equals the embedding of its meta's text.
	for _, probe := range []int{0, 17, 39} {
		vec, _ := e.MockEmbedder.Embed(ctx, built.Metas[probe].Text, embedding.ModeDocument)
		hits, err := built.Index.Search(ctx, vec, 1)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if hits[0].Index != probe || hits[0].Distance > 1e-6 {
			t.Errorf("vector %d not aligned with its metadata: hit %+v", probe, hits[0])
		}
	}
}

// slowEmbedder tracks how many Embed calls run at once. With one worker per
// build, overlapping builds would push the gauge above 1.
type slowEmbedder struct {
	*embedding.MockEmbedder
	active atomic.Int32
	peak   atomic.Int32
}

func (e *slowEmbedder) Embed(ctx context.Context, text string, mode embedding.Mode) ([]float32, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return e.MockEmbedder.Embed(ctx, text, mode)
}

func TestBuild_SerializesConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	s, art := testSetup(t, "alpha text", "beta text", "gamma text", "delta text")
	e := &slowEmbedder{MockEmbedder: embedding.NewMockEmbedder(8)}
	b := NewBuilder(s, e, art, WithWorkers(1), WithBatchSize(1))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Build(ctx, true); err != nil {
				t.Errorf("Build: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := e.peak.Load(); peak > 1 {
		t.Errorf("builds overlapped: %d embedding calls in flight, want 1", peak)
	}

	// The persisted triple is internally consistent after the dust settles.
	info, err := fingerprint.LoadInfo(art.InfoPath)
	if err != nil {
		t.Fatalf("LoadInfo: %v", err)
	}
	metas, err := LoadMetas(art.MetaPath)
	if err != nil {
		t.Fatalf("LoadMetas: %v", err)
	}
	idx, err := vector.LoadFlat(art.IndexPath)
	if err != nil {
		t.Fatalf("LoadFlat: %v", err)
	}
	if idx.Size() != len(metas) || info.ChunkCount != len(metas) {
		t.Errorf("mixed triple: %d vectors, %d metas, info claims %d",
			idx.Size(), len(metas), info.ChunkCount)
	}
}
