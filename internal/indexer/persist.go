package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// persist writes the triple as a single logical transaction: all three
// artifacts land at temp paths first, then are renamed into place in fixed
// order with the info file last. Until the info rename the previous triple
// stays valid, so a crash at any point leaves either the old complete index
// or the new complete index.
func (b *Builder) persist(idx *vector.FlatIndex, metas []models.ChunkMeta, info models.IndexInfo) error {
	for _, p := range []string{b.artifacts.IndexPath, b.artifacts.MetaPath, b.artifacts.InfoPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}

	tmpIndex := b.artifacts.IndexPath + ".tmp"
	tmpMeta := b.artifacts.MetaPath + ".tmp"
	tmpInfo := b.artifacts.InfoPath + ".tmp"
	cleanup := func() {
		os.Remove(tmpIndex)
		os.Remove(tmpMeta)
		os.Remove(tmpInfo)
	}

	if err := idx.Save(tmpIndex); err != nil {
		cleanup()
		return err
	}
	if err := writeJSON(tmpMeta, metas); err != nil {
		cleanup()
		return err
	}
	if err := writeJSON(tmpInfo, info); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tmpIndex, b.artifacts.IndexPath); err != nil {
		cleanup()
		return fmt.Errorf("commit index: %w", err)
	}
	if err := os.Rename(tmpMeta, b.artifacts.MetaPath); err != nil {
		cleanup()
		return fmt.Errorf("commit metadata: %w", err)
	}
	if err := os.Rename(tmpInfo, b.artifacts.InfoPath); err != nil {
		cleanup()
		return fmt.Errorf("commit index info: %w", err)
	}
	return nil
}

// LoadMetas reads the persisted metadata list.
func LoadMetas(path string) ([]models.ChunkMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var metas []models.ChunkMeta
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return metas, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
