package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/chat"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/fingerprint"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/store"
	"go.uber.org/zap"
)

func testConfig(dir string) *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.ChunkPath = filepath.Join(dir, "chunks")
	cfg.Storage.IndexPath = filepath.Join(dir, "index.bin")
	cfg.Storage.MetaPath = filepath.Join(dir, "meta.json")
	cfg.Storage.InfoPath = filepath.Join(dir, "info.json")
	return cfg
}

// newTestServer wires a full server over a temp chunk store. When prebuild
// is true the index artifacts exist before the first request.
func newTestServer(t *testing.T, texts []string, fragments []string, prebuild bool) *Server {
	t.Helper()
	cfg := testConfig(t.TempDir())

	st, err := store.NewStore("dir", cfg.Storage.ChunkPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	page := &models.Page{URL: "https://example.com/page", Title: "page"}
	for i, text := range texts {
		chk := models.NewChunk(page, i, text)
		if err := st.WriteChunk(ctx, 0, chk); err != nil {
			t.Fatal(err)
		}
	}

	embedder := embedding.NewMockEmbedder(8)
	art := fingerprint.Artifacts{
		IndexPath: cfg.Storage.IndexPath,
		MetaPath:  cfg.Storage.MetaPath,
		InfoPath:  cfg.Storage.InfoPath,
	}
	builder := indexer.NewBuilder(st, embedder, art)
	if prebuild {
		if _, err := builder.Build(ctx, false); err != nil {
			t.Fatal(err)
		}
	}

	retriever := search.NewRetriever(embedder, art)
	gen := &generation.MockGenerator{Fragments: fragments}
	chatSvc := chat.NewService(retriever, gen)

	return NewServer(chatSvc, retriever, builder, st, cfg, zap.NewNop())
}

// parseSSE decodes every `data:` frame in an event-stream body.
func parseSSE(t *testing.T, body string) []models.Event {
	t.Helper()
	var events []models.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event frame %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func postJSON(srv *Server, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	r := httptest.NewRequest(http.MethodPost, path, &buf)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	return w
}

func TestHandleChat_StreamsEvents(t *testing.T) {
	texts := []string{
		"Go is a statically typed language.",
		"Gophers live in burrows.",
		"The gopher is the Go mascot.",
	}
	srv := newTestServer(t, texts, []string{"It is", " the mascot."}, true)

	w := postJSON(srv, "/api/v1/chat", models.ChatRequest{Query: "what is the Go mascot?", TopK: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := parseSSE(t, w.Body.String())
	if len(events) != 4 {
		t.Fatalf("got %d events, want sources + 2 tokens + done: %+v", len(events), events)
	}
	if events[0].Type != models.EventSources || len(events[0].Sources) != 2 {
		t.Fatalf("first event = %+v, want sources with 2 entries", events[0])
	}
	if events[1].Content+events[2].Content != "It is the mascot." {
		t.Errorf("token contents = %q + %q", events[1].Content, events[2].Content)
	}
	if events[3].Type != models.EventDone {
		t.Errorf("last event type = %q", events[3].Type)
	}
}

func TestHandleChat_EmptyQuery(t *testing.T) {
	srv := newTestServer(t, []string{"text"}, nil, true)

	w := postJSON(srv, "/api/v1/chat", models.ChatRequest{Query: "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("error responses stay JSON, got Content-Type %q", ct)
	}
}

func TestHandleChat_InvalidBody(t *testing.T) {
	srv := newTestServer(t, []string{"text"}, nil, true)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
}

func TestHandleChat_NoIndex(t *testing.T) {
	srv := newTestServer(t, []string{"text"}, nil, false)

	w := postJSON(srv, "/api/v1/chat", models.ChatRequest{Query: "anything"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	events := parseSSE(t, w.Body.String())
	if len(events) != 1 || events[0].Type != models.EventError {
		t.Fatalf("got %+v, want a single error event", events)
	}
}

func TestHandleRebuild(t *testing.T) {
	srv := newTestServer(t, []string{"alpha text", "beta text"}, nil, false)

	w := postJSON(srv, "/api/v1/index", rebuildRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out struct {
		Status string `json:"status"`
		Chunks int    `json:"chunks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "indexed" || out.Chunks != 2 {
		t.Errorf("rebuild response = %+v", out)
	}

	// The fresh snapshot serves queries without a restart.
	if snap := srv.retriever.Current(); snap == nil || snap.Index.Size() != 2 {
		t.Error("rebuild did not install a snapshot")
	}
}

func TestHandleRebuild_EmptyStore(t *testing.T) {
	srv := newTestServer(t, nil, nil, false)

	w := postJSON(srv, "/api/v1/index", rebuildRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, []string{"text"}, nil, true)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Status       string `json:"status"`
		IndexExists  bool   `json:"index_exists"`
		MetaExists   bool   `json:"metadata_exists"`
		InfoExists   bool   `json:"info_exists"`
		IndexReady   bool   `json:"index_ready"`
		IndexPath    string `json:"index_path"`
		MetadataPath string `json:"metadata_path"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "ok" || !out.IndexExists || !out.MetaExists || !out.InfoExists || !out.IndexReady {
		t.Errorf("health = %+v", out)
	}
	if out.IndexPath == "" || out.MetadataPath == "" {
		t.Errorf("health omits artifact paths: %+v", out)
	}
}

func TestHandleHealth_MissingIndexArtifact(t *testing.T) {
	srv := newTestServer(t, []string{"text"}, nil, true)
	// Info survives but the vector file is gone; health must not report
	// the index as ready.
	if err := os.Remove(srv.config.Storage.IndexPath); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	var out struct {
		IndexExists bool `json:"index_exists"`
		MetaExists  bool `json:"metadata_exists"`
		InfoExists  bool `json:"info_exists"`
		IndexReady  bool `json:"index_ready"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.IndexExists {
		t.Error("index_exists true after removing the vector file")
	}
	if !out.MetaExists || !out.InfoExists {
		t.Errorf("surviving artifacts not reported: %+v", out)
	}
	if out.IndexReady {
		t.Error("index_ready true with the vector file missing")
	}
}

func TestHandleStatus(t *testing.T) {
	srv := newTestServer(t, []string{"alpha", "beta", "gamma"}, nil, true)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if got := out["chunks"].(float64); got != 3 {
		t.Errorf("chunks = %v, want 3", got)
	}
	idx, ok := out["index"].(map[string]interface{})
	if !ok {
		t.Fatalf("status lacks index section: %v", out)
	}
	if got := idx["chunk_count"].(float64); got != 3 {
		t.Errorf("index chunk_count = %v, want 3", got)
	}
	if _, ok := out["disk_usage_bytes"]; !ok {
		t.Error("status lacks disk_usage_bytes")
	}
}

func TestHandleChat_MidStreamFailure(t *testing.T) {
	srv := newTestServer(t, []string{"some text"}, nil, true)
	srv.chat = chat.NewService(srv.retriever, &generation.MockGenerator{
		Fragments: []string{"partial"},
		Err:       fmt.Errorf("provider reset"),
	})

	w := postJSON(srv, "/api/v1/chat", models.ChatRequest{Query: "q"})
	events := parseSSE(t, w.Body.String())
	if len(events) != 3 {
		t.Fatalf("got %d events, want sources + token + error: %+v", len(events), events)
	}
	if events[2].Type != models.EventError {
		t.Errorf("last event type = %q, want error", events[2].Type)
	}
}
