package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"wired/pkg/types"
)

const (
	defaultDocumentLimit = 50
	maxDocumentLimit     = 200
	maxTitleLength       = 200
)

type DocumentsResponse struct {
	Documents []*types.Document `json:"documents"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := defaultDocumentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxDocumentLimit)
	}

	docs, err := s.deps.Store.SearchDocuments(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("document search failed")
		sendError(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []*types.Document{}
	}
	writeJSON(w, http.StatusOK, DocumentsResponse{Documents: docs})
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	files, ok := s.parseUpload(w, r, "document", 1)
	if !ok {
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = files[0].Filename
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		sendError(w, "title exceeds 200 characters", http.StatusBadRequest)
		return
	}

	stored, err := s.saveUpload(files[0], "")
	if err != nil {
		s.sendUploadError(w, err)
		return
	}

	doc := &types.Document{
		ID:          uuid.NewString(),
		Owner:       username,
		Title:       title,
		Path:        stored.URL,
		ContentType: stored.ContentType,
		Size:        stored.Size,
		UploadedAt:  time.Now().UTC(),
	}
	if err := s.deps.Store.CreateDocument(r.Context(), doc); err != nil {
		_ = s.deps.Files.Remove(stored.Name)
		s.logger.Error().Err(err).Str("user", username).Msg("failed to record document")
		sendError(w, "Failed to save document", http.StatusInternalServerError)
		return
	}

	s.logger.Info().Str("user", username).Str("document", doc.ID).Msg("document uploaded")
	writeJSON(w, http.StatusCreated, doc)
}
