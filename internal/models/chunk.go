// Package models defines core data structures for pages, chunks, index
// artifacts, and the chat event protocol.
package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// Page is one crawled document as produced by the scraper: cleaned plain
// text plus provenance. Pages are the input of the chunking step.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Chunk is a bounded, heading-delimited text segment extracted from one
// page. Chunks are immutable; re-chunking a page produces a new set.
type Chunk struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	Text     string `json:"text"`
	Checksum string `json:"checksum"`
}

// NewChunk creates a chunk for the given page text segment, computing the
// content checksum.
func NewChunk(page *Page, position int, text string) *Chunk {
	return &Chunk{
		URL:      page.URL,
		Title:    page.Title,
		Position: position,
		Text:     text,
		Checksum: TextChecksum(text),
	}
}

// TextChecksum returns the SHA-256 hex digest of text. Two chunks with the
// same text share a checksum and are interchangeable for indexing.
func TextChecksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
