package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/squarest/notebook/internal/ai"
	"github.com/squarest/notebook/internal/extract"
	"github.com/squarest/notebook/internal/ingest"
	"github.com/squarest/notebook/internal/models"
	"github.com/squarest/notebook/internal/storage"
	"github.com/squarest/notebook/pkg/utils"
)

func (s *Server) handleUploadSource(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.Ingest.MaxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, s.cfg.Ingest.MaxUploadBytes+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "read upload")
		return
	}
	if int64(len(content)) > s.cfg.Ingest.MaxUploadBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}

	declaredType := header.Header.Get("Content-Type")
	s.logger.Debug("upload request",
		zap.String("filename", header.Filename), zap.String("type", declaredType))
	source, err := s.ingester.Ingest(r.Context(), content, header.Filename, declaredType)
	if err != nil {
		s.logger.Warn("ingestion failed",
			zap.String("filename", header.Filename), zap.Error(err))
		// The failed source row (with its recorded reason) is still returned
		// so the client can show what happened.
		s.respondJSONError(w, statusForError(err), err.Error(), source)
		return
	}
	s.respondJSON(w, http.StatusCreated, source)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	source, err := s.store.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, source)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ingester.Delete(r.Context(), id); err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSourceChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetSource(r.Context(), id); err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	chunks, err := s.store.ChunksForSource(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"chunks": chunks})
}

type noteRequest struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	SourceIDs []string `json:"source_ids"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	note := &models.Note{
		ID:        uuid.New().String(),
		Title:     req.Title,
		Content:   req.Content,
		SourceIDs: req.SourceIDs,
	}
	if err := s.store.CreateNote(r.Context(), note); err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, note)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.store.ListNotes(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"notes": notes})
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.store.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, note)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	note := &models.Note{
		ID:        chi.URLParam(r, "id"),
		Title:     req.Title,
		Content:   req.Content,
		SourceIDs: req.SourceIDs,
	}
	if err := s.store.UpdateNote(r.Context(), note); err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, note)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteNote(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	Provider       string `json:"provider"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	s.logger.Debug("chat request",
		zap.String("conversation_id", req.ConversationID),
		zap.String("provider", req.Provider),
		zap.String("query", utils.Truncate(req.Query, 200)))
	msg, err := s.orchestrator.Ask(r.Context(), req.ConversationID, req.Query, req.Provider)
	if err != nil {
		s.logger.Warn("ask failed", zap.Error(err))
		s.respondError(w, statusForError(err), userFacingError(err))
		return
	}
	s.respondJSON(w, http.StatusOK, msg)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := s.orchestrator.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Clear(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.registry.Available(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sources, err := s.store.CountSources(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunks, err := s.store.CountChunks(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	notes, err := s.store.CountNotes(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sources":          sources,
		"chunks":           chunks,
		"notes":            notes,
		"providers":        s.registry.Available(),
		"disk_usage_bytes": storage.DiskUsageBytes(s.cfg.Storage.DatabasePath),
		"config": map[string]interface{}{
			"chunk_size":    s.cfg.Ingest.ChunkSize,
			"chunk_overlap": s.cfg.Ingest.ChunkOverlap,
			"database_path": s.cfg.Storage.DatabasePath,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForError maps the core error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, extract.ErrCorruptFile),
		errors.Is(err, ingest.ErrEmptyContent):
		return http.StatusBadRequest
	case errors.Is(err, ai.ErrNoProviderConfigured), errors.Is(err, ai.ErrAuth):
		return http.StatusServiceUnavailable
	case errors.Is(err, ai.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ai.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ai.ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// userFacingError tells the user whether to fix configuration or just retry.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, ai.ErrNoProviderConfigured):
		return "no AI provider configured: set OPENAI_API_KEY, ANTHROPIC_API_KEY, or GOOGLE_API_KEY"
	case errors.Is(err, ai.ErrAuth):
		return "the provider rejected the request: check the configured API key"
	case errors.Is(err, ai.ErrTimeout):
		return "the provider request timed out: try again"
	case errors.Is(err, ai.ErrRateLimited):
		return "the provider is rate limiting requests: wait and try again"
	case errors.Is(err, ai.ErrTransient):
		return "the provider is temporarily unavailable: try again"
	default:
		return err.Error()
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondJSONError reports an error together with a payload (the failed
// source record for uploads).
func (s *Server) respondJSONError(w http.ResponseWriter, status int, message string, payload interface{}) {
	s.respondJSON(w, status, map[string]interface{}{"error": message, "source": payload})
}
