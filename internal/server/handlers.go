package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/hyperjump/kotae/internal/chat"
	"github.com/hyperjump/kotae/internal/fingerprint"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/store"
	"go.uber.org/zap"
)

// handleChat answers a question as a server-sent event stream. Each event is
// one `data: <json>` frame; the stream ends after a done or error event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	events, err := s.chat.Ask(r.Context(), &req)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyQuery) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("chat request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	streamID := uuid.NewString()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Stream-ID", streamID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("chat stream opened",
		zap.String("stream_id", streamID), zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("event marshal failed", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client went away; the request context cancellation stops
			// the producer.
			return
		}
		flusher.Flush()
	}
}

type rebuildRequest struct {
	Force bool `json:"force"`
}

// handleRebuild rebuilds the index from the chunk store and installs the
// result for subsequent queries. Only one rebuild runs at a time.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if !s.rebuildMu.TryLock() {
		s.respondError(w, http.StatusConflict, "a rebuild is already in progress")
		return
	}
	defer s.rebuildMu.Unlock()

	s.logger.Info("rebuild requested", zap.Bool("force", req.Force))
	built, err := s.builder.Build(r.Context(), req.Force)
	if err != nil {
		if errors.Is(err, indexer.ErrNoChunks) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.retriever.Install(&search.Snapshot{Index: built.Index, Metas: built.Metas, Info: built.Info})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "indexed",
		"chunks":       built.Info.ChunkCount,
		"content_hash": built.Info.ContentHash,
		"model":        built.Info.Model,
		"indexed_at":   built.Info.IndexedAt,
	})
}

// handleHealth reports the existence of each index artifact, so a missing
// vector or metadata file is visible even when the info file survived.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	exists := func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}
	indexExists := exists(s.config.Storage.IndexPath)
	metaExists := exists(s.config.Storage.MetaPath)
	infoExists := exists(s.config.Storage.InfoPath)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"index_exists":    indexExists,
		"metadata_exists": metaExists,
		"info_exists":     infoExists,
		"index_ready":     indexExists && metaExists && infoExists,
		"index_path":      s.config.Storage.IndexPath,
		"metadata_path":   s.config.Storage.MetaPath,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chunkCount, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"chunks": chunkCount,
	}
	if info, err := fingerprint.LoadInfo(s.config.Storage.InfoPath); err == nil {
		resp["index"] = map[string]interface{}{
			"chunk_count":  info.ChunkCount,
			"content_hash": info.ContentHash,
			"model":        info.Model,
			"indexed_at":   info.IndexedAt,
		}
	}
	if snap := s.retriever.Current(); snap != nil {
		resp["loaded_vectors"] = snap.Index.Size()
	}
	if diskBytes, err := store.DiskUsageBytes(
		s.config.Storage.ChunkPath,
		s.config.Storage.IndexPath,
		s.config.Storage.MetaPath,
		s.config.Storage.InfoPath,
	); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}

	configInfo := map[string]interface{}{
		"store_type":           s.config.Storage.StoreType,
		"chunk_path":           s.config.Storage.ChunkPath,
		"embedding_model":      s.config.Embedding.Model,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"generation_model":     s.config.Generation.Model,
		"default_top_k":        s.config.Query.DefaultTopK,
	}
	resp["config"] = configInfo

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
