package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteStore keeps chunk records as rows in a SQLite database. The canonical
// record bytes are stored verbatim, so the fingerprint of a SQLite store
// matches that of a DirStore holding the same chunks.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite chunk store at dbPath and
// initializes the schema. Parent directories are created if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("chunk database path is empty")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// WriteChunk upserts the chunk record. A single statement runs in its own
// transaction, so the record is never partially visible.
func (s *SQLiteStore) WriteChunk(ctx context.Context, pageIndex int, chunk *models.Chunk) error {
	data, err := MarshalRecord(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chunks (name, data) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data`,
		RecordName(pageIndex, chunk.Position), data)
	if err != nil {
		return fmt.Errorf("insert chunk record: %w", err)
	}
	return nil
}

// LoadAll returns every chunk record ordered by name.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]Record, error) {
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

// ForEachRecord visits raw record bytes ordered by name.
func (s *SQLiteStore) ForEachRecord(ctx context.Context, fn func(name string, data []byte) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, data FROM chunks ORDER BY name`)
	if err != nil {
		return fmt.Errorf("query chunk records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return fmt.Errorf("scan chunk record: %w", err)
		}
		if err := fn(name, data); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunk records: %w", err)
	}
	return n, nil
}

// Clear removes all records.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunk records: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
