// Package chunker splits cleaned page text into bounded, heading-aware
// segments for embedding and retrieval.
package chunker

import (
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

// Default token bounds for chunk sizes.
const (
	DefaultMaxTokens = 450
	DefaultMinTokens = 60
)

// Chunker splits page content into heading-delimited, token-bounded chunks.
// For the same input and thresholds the output is fully deterministic.
type Chunker struct {
	maxTokens int
	minTokens int
	count     TokenCounter
}

// NewChunker creates a chunker with the given token bounds. A nil counter
// uses CountTokens; non-positive bounds use the defaults.
func NewChunker(maxTokens, minTokens int, count TokenCounter) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if minTokens <= 0 {
		minTokens = DefaultMinTokens
	}
	if count == nil {
		count = CountTokens
	}
	return &Chunker{maxTokens: maxTokens, minTokens: minTokens, count: count}
}

// Chunk splits a page into ordered chunks. Lines are the page content split
// on newlines with blank lines removed; a line starting with "#" begins a
// new semantic unit. A buffer whose token length exceeds maxTokens is closed
// unconditionally; otherwise a buffer is emitted only when it exceeds
// minTokens. The trailing buffer below minTokens is dropped, so a short page
// can yield no chunks at all; callers that need at least one chunk per page
// apply their own fallback.
func (c *Chunker) Chunk(page *models.Page) []*models.Chunk {
	chunks := make([]*models.Chunk, 0)
	var buf []string

	emit := func(force bool) {
		if len(buf) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if text == "" {
			return
		}
		if force || c.count(text) > c.minTokens {
			chunks = append(chunks, models.NewChunk(page, len(chunks), text))
		}
	}

	for _, line := range Lines(page.Content) {
		if strings.HasPrefix(line, "#") {
			emit(false)
		}
		buf = append(buf, line)
		if c.count(strings.Join(buf, "\n")) > c.maxTokens {
			emit(true)
		}
	}
	emit(false)
	return chunks
}

// Lines splits content into trimmed, non-blank lines in reading order.
func Lines(content string) []string {
	raw := strings.Split(content, "\n")
	lines := make([]string, 0, len(raw))
	for _, ln := range raw {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			lines = append(lines, ln)
		}
	}
	return lines
}
