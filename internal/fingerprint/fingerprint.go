// Package fingerprint detects chunk-store changes so the index is rebuilt
// only when content actually changed.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
)

// Artifacts names the persisted index triple. All three are written together
// and a missing or inconsistent member invalidates the whole index.
type Artifacts struct {
	IndexPath string
	MetaPath  string
	InfoPath  string
}

// Compute returns the SHA-256 rolling hash over the byte content of every
// chunk record, in the store's load order. Cost is O(total record bytes);
// callers needing speed cache the result separately.
func Compute(ctx context.Context, s store.Store) (string, error) {
	h := sha256.New()
	err := s.ForEachRecord(ctx, func(name string, data []byte) error {
		_, werr := h.Write(data)
		return werr
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint chunk store: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LoadInfo reads the persisted index info file.
func LoadInfo(path string) (*models.IndexInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index info: %w", err)
	}
	var info models.IndexInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse index info: %w", err)
	}
	return &info, nil
}

// ShouldRebuild reports whether the persisted index can no longer be
// trusted: any artifact missing, the info file unreadable, or the stored
// fingerprint differing from currentHash.
func ShouldRebuild(art Artifacts, currentHash string) bool {
	for _, p := range []string{art.IndexPath, art.MetaPath} {
		if _, err := os.Stat(p); err != nil {
			return true
		}
	}
	info, err := LoadInfo(art.InfoPath)
	if err != nil {
		return true
	}
	return info.ContentHash != currentHash
}
