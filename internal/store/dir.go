package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

// DirStore keeps one JSON file per chunk in a single directory. Record names
// are the filenames; os.ReadDir returns them sorted, which fixes the load
// order.
type DirStore struct {
	dir string
}

// NewDirStore creates a directory-backed chunk store, creating the directory
// if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("chunk directory path is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the directory holding the chunk records.
func (s *DirStore) Dir() string {
	return s.dir
}

// WriteChunk writes the chunk record via a temp file and rename so a crash
// never leaves a partial record with a .json name.
func (s *DirStore) WriteChunk(ctx context.Context, pageIndex int, chunk *models.Chunk) error {
	data, err := MarshalRecord(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk record: %w", err)
	}
	name := RecordName(pageIndex, chunk.Position)
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// LoadAll returns every chunk record ordered by filename.
func (s *DirStore) LoadAll(ctx context.Context) ([]Record, error) {
	records := make([]Record, 0)
	err := s.ForEachRecord(ctx, func(name string, data []byte) error {
		var chunk models.Chunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("parse record %s: %w", name, err)
		}
		records = append(records, Record{Name: name, Chunk: chunk})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ForEachRecord visits raw record bytes in sorted filename order, skipping
// anything that is not a .json file (temp files in particular).
func (s *DirStore) ForEachRecord(ctx context.Context, fn func(name string, data []byte) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read chunk dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read record %s: %w", entry.Name(), err)
		}
		if err := fn(entry.Name(), data); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of .json records in the directory.
func (s *DirStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.ForEachRecord(ctx, func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}

// Clear removes every .json record from the directory.
func (s *DirStore) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read chunk dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("remove record %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close is a no-op for DirStore.
func (s *DirStore) Close() error {
	return nil
}
