package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// defaultGroupID is used when a chat request carries no group id.
const defaultGroupID = "101"

type chatRequest struct {
	Question string `json:"question"`
	GroupID  string `json:"group_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.GroupID == "" {
		req.GroupID = defaultGroupID
	}
	s.logger.Debug("chat request", zap.String("group_id", req.GroupID))

	answer, err := s.engine.Answer(r.Context(), req.Question, req.GroupID)
	if err != nil {
		// internal detail never reaches the caller
		s.logger.Error("answer failed", zap.Error(err))
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"answer": "Server error"})
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

type ingestRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	path := req.Path
	if path == "" {
		path = s.config.Ingest.SourcePath
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "no ingest source configured")
		return
	}
	s.logger.Info("ingest request", zap.String("path", path))

	n, err := s.ingestor.IngestFile(r.Context(), path)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ingested", "messages": n})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageCount, err := s.store.CountMessages(ctx)
	if err != nil {
		s.logger.Error("status: count messages failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	groupCount, err := s.store.CountGroups(ctx)
	if err != nil {
		s.logger.Error("status: count groups failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "status unavailable")
		return
	}

	resp := map[string]interface{}{
		"messages": messageCount,
		"groups":   groupCount,
	}

	blob, err := s.store.LoadIndexBlob(ctx)
	if err != nil {
		s.logger.Error("status: load index blob failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	if blob != nil {
		resp["vector_index_size"] = blob.Count
		resp["vector_index_dimensions"] = blob.Dimensions
		resp["vector_index_format"] = blob.FormatTag
	} else {
		resp["vector_index_size"] = 0
	}

	configInfo := map[string]interface{}{
		"database_path":        s.config.Storage.DatabasePath,
		"embedding_model":      s.config.Embedding.Model,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"llm_model":            s.config.LLM.Model,
	}
	resp["config"] = configInfo

	if diskBytes, err := s.diskUsage(); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
