package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

func testChunk(position int, text string) *models.Chunk {
	return models.NewChunk(&models.Page{
		URL:   "https://example.com/a",
		Title: "A",
	}, position, text)
}

// openStores builds both backends so every test runs against each.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir, err := NewDirStore(filepath.Join(t.TempDir(), "chunks"))
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chunks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return map[string]Store{"dir": dir, "sqlite": sqlite}
}

func TestStore_WriteLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			// Written out of order; load order must follow record names.
			if err := s.WriteChunk(ctx, 1, testChunk(0, "second page text")); err != nil {
				t.Fatalf("WriteChunk: %v", err)
			}
			if err := s.WriteChunk(ctx, 0, testChunk(1, "first page, later chunk")); err != nil {
				t.Fatalf("WriteChunk: %v", err)
			}
			if err := s.WriteChunk(ctx, 0, testChunk(0, "first page, first chunk")); err != nil {
				t.Fatalf("WriteChunk: %v", err)
			}

			records, err := s.LoadAll(ctx)
			if err != nil {
				t.Fatalf("LoadAll: %v", err)
			}
			if len(records) != 3 {
				t.Fatalf("expected 3 records, got %d", len(records))
			}
			wantOrder := []string{
				RecordName(0, 0),
				RecordName(0, 1),
				RecordName(1, 0),
			}
			for i, want := range wantOrder {
				if records[i].Name != want {
					t.Errorf("record %d name = %s, want %s", i, records[i].Name, want)
				}
			}
			if records[0].Chunk.Text != "first page, first chunk" {
				t.Errorf("unexpected first record text: %q", records[0].Chunk.Text)
			}
			if records[0].Chunk.Checksum != models.TextChecksum("first page, first chunk") {
				t.Error("checksum not preserved through store")
			}

			n, err := s.Count(ctx)
			if err != nil || n != 3 {
				t.Errorf("Count = %d, %v; want 3", n, err)
			}
		})
	}
}

func TestStore_ClearAndEmpty(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			records, err := s.LoadAll(ctx)
			if err != nil {
				t.Fatalf("LoadAll on empty store: %v", err)
			}
			if len(records) != 0 {
				t.Fatalf("expected empty store, got %d records", len(records))
			}
			if err := s.WriteChunk(ctx, 0, testChunk(0, "text")); err != nil {
				t.Fatalf("WriteChunk: %v", err)
			}
			if err := s.Clear(ctx); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			n, err := s.Count(ctx)
			if err != nil || n != 0 {
				t.Errorf("Count after Clear = %d, %v; want 0", n, err)
			}
		})
	}
}

func TestStore_RecordBytesIdenticalAcrossBackends(t *testing.T) {
	ctx := context.Background()
	stores := openStores(t)
	chunk := testChunk(0, "the same chunk in both backends")
	bytesByBackend := make(map[string][]byte)
	for name, s := range stores {
		if err := s.WriteChunk(ctx, 0, chunk); err != nil {
			t.Fatalf("%s WriteChunk: %v", name, err)
		}
		err := s.ForEachRecord(ctx, func(_ string, data []byte) error {
			bytesByBackend[name] = append([]byte(nil), data...)
			return nil
		})
		if err != nil {
			t.Fatalf("%s ForEachRecord: %v", name, err)
		}
		s.Close()
	}
	if string(bytesByBackend["dir"]) != string(bytesByBackend["sqlite"]) {
		t.Error("canonical record bytes differ between backends")
	}
}

func TestDirStore_NoTempFilesLeftBehind(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "chunks")
	s, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	if err := s.WriteChunk(ctx, 0, testChunk(0, "text")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestDirStore_IgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "chunks")
	s, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stale.json.tmp"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 0 {
		t.Errorf("Count = %d, %v; want 0 (foreign files ignored)", n, err)
	}
}

func TestNewStore_Factory(t *testing.T) {
	if _, err := NewStore("tarfile", "x"); err == nil {
		t.Error("expected error for unknown store type")
	}
	s, err := NewStore("", filepath.Join(t.TempDir(), "chunks"))
	if err != nil {
		t.Fatalf("NewStore(''): %v", err)
	}
	if _, ok := s.(*DirStore); !ok {
		t.Errorf("empty type should default to DirStore, got %T", s)
	}
}
