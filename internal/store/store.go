// Package store persists chunk records and provides deterministic iteration
// for fingerprinting. Two backends exist: a directory of JSON files and a
// SQLite database holding the same canonical record bytes.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/kotae/internal/models"
)

// StoreType selects a chunk store backend.
type StoreType string

const (
	// StoreTypeDir keeps one JSON file per chunk in a directory.
	StoreTypeDir StoreType = "dir"
	// StoreTypeSQLite keeps chunk records as rows in a SQLite database.
	StoreTypeSQLite StoreType = "sqlite"
)

// Record is one stored chunk together with its stable record name. Names
// define the load order, which must be identical across runs.
type Record struct {
	Name  string
	Chunk models.Chunk
}

// Store is a collection of chunk records. Writes are atomic per record;
// reads are ordered by record name so fingerprinting is reproducible.
type Store interface {
	// WriteChunk persists one chunk under its record name. A crash mid-write
	// must never leave a partial record visible.
	WriteChunk(ctx context.Context, pageIndex int, chunk *models.Chunk) error
	// LoadAll returns every record ordered by name.
	LoadAll(ctx context.Context) ([]Record, error)
	// ForEachRecord visits the canonical bytes of every record in name
	// order. Used by the change detector.
	ForEachRecord(ctx context.Context, fn func(name string, data []byte) error) error
	// Count returns the number of records.
	Count(ctx context.Context) (int, error)
	// Clear removes all records, ahead of a fresh chunking run.
	Clear(ctx context.Context) error
	Close() error
}

// NewStore creates a chunk store of the given type at path.
// Supported types: "dir" (default), "sqlite".
func NewStore(storeType string, path string) (Store, error) {
	switch StoreType(storeType) {
	case StoreTypeDir, "":
		return NewDirStore(path)
	case StoreTypeSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store type: %s (supported: dir, sqlite)", storeType)
	}
}

// RecordName returns the stable record name for a chunk. Zero-padding keeps
// lexicographic order equal to (page, position) order.
func RecordName(pageIndex, position int) string {
	return fmt.Sprintf("page_%04d_chunk_%04d.json", pageIndex, position)
}

// MarshalRecord renders the canonical byte form of a chunk record. Both
// backends persist exactly these bytes so their fingerprints agree.
func MarshalRecord(chunk *models.Chunk) ([]byte, error) {
	return json.MarshalIndent(chunk, "", "  ")
}

// DiskUsageBytes returns the total size in bytes of the given paths. Each
// path may be a file or a directory (recursively summed). Missing paths are
// skipped; errors during walk are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if info.IsDir() {
			n, err := dirSize(p)
			if err != nil {
				return 0, err
			}
			total += n
		} else {
			total += info.Size()
		}
	}
	return total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
