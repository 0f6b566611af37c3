package models

import "time"

// ChunkMeta is the metadata record stored alongside one index vector. The
// metadata list and the vector index are parallel arrays: ChunkMeta i
// describes vector i, always.
type ChunkMeta struct {
	Text      string    `json:"text"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	Checksum  string    `json:"checksum"`
	Filename  string    `json:"filename"`
	IndexedAt time.Time `json:"indexed_at"`
}

// IndexInfo summarizes a persisted index: the chunk-store fingerprint it was
// built from, the entry count, and the embedding model used. A persisted
// index is valid for querying only while ContentHash matches the store's
// current fingerprint.
type IndexInfo struct {
	ContentHash string    `json:"content_hash"`
	ChunkCount  int       `json:"chunk_count"`
	Model       string    `json:"model"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// RetrievalResult is one nearest-neighbor hit: rank 1..K, L2 distance
// (smaller is more similar), and a bounded view of the chunk metadata.
// FullText carries the complete stored chunk text for prompt assembly;
// Meta.Text is the length-bounded client view. Results are ephemeral and
// never persisted.
type RetrievalResult struct {
	Rank     int       `json:"rank"`
	Distance float64   `json:"distance"`
	Meta     ChunkMeta `json:"metadata"`
	FullText string    `json:"-"`
}
