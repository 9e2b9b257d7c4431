package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"

	"wired/internal/storage"
	"wired/pkg/interfaces"
	"wired/pkg/types"
)

const multipartMemory = 8 << 20

type AvatarResponse struct {
	Success    bool   `json:"success"`
	AvatarPath string `json:"avatarPath"`
}

type ImagesResponse struct {
	Success   bool     `json:"success"`
	ImageList []string `json:"imageList"`
}

// loadSettings returns stored settings with defaults applied.
func (s *Server) loadSettings(ctx context.Context, username string) (types.Settings, error) {
	settings, err := s.deps.Store.GetSettings(ctx, username)
	if errors.Is(err, interfaces.ErrSettingsNotFound) {
		return types.Settings{Username: username}.WithDefaults(), nil
	}
	if err != nil {
		return types.Settings{}, err
	}
	return *settings, nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	settings, err := s.loadSettings(r.Context(), username)
	if err != nil {
		s.logger.Error().Err(err).Str("user", username).Msg("failed to load settings")
		sendError(w, "Failed to load settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings.WithDefaults())
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	settings, err := s.loadSettings(r.Context(), username)
	if err != nil {
		s.logger.Error().Err(err).Str("user", username).Msg("failed to load profile")
		sendError(w, "Failed to load profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, types.ProfileFor(settings))
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())

	var settings types.Settings
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&settings); err != nil {
			sendError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			sendError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		settings.Alias = r.PostForm.Get("alias")
		settings.Theme = r.PostForm.Get("theme")
		settings.Description = r.PostForm.Get("description")
		settings.Directory = r.PostForm.Get("directory")
	}
	settings.Username = username

	if err := settings.Validate(); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.Store.SaveSettings(r.Context(), &settings); err != nil {
		s.logger.Error().Err(err).Str("user", username).Msg("failed to save settings")
		sendError(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	files, ok := s.parseUpload(w, r, "avatar", 1)
	if !ok {
		return
	}

	stored, err := s.saveUpload(files[0], "image/")
	if err != nil {
		s.sendUploadError(w, err)
		return
	}
	if err := s.deps.Store.SetAvatar(r.Context(), username, stored.URL); err != nil {
		_ = s.deps.Files.Remove(stored.Name)
		s.logger.Error().Err(err).Str("user", username).Msg("failed to set avatar")
		sendError(w, "Failed to save avatar", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, AvatarResponse{Success: true, AvatarPath: stored.URL})
}

func (s *Server) handleUploadImages(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	files, ok := s.parseUpload(w, r, "images", s.config.MaxImages)
	if !ok {
		return
	}

	stored := make([]*storage.StoredFile, 0, len(files))
	cleanup := func() {
		for _, f := range stored {
			_ = s.deps.Files.Remove(f.Name)
		}
	}
	urls := make([]string, 0, len(files))
	for _, fh := range files {
		f, err := s.saveUpload(fh, "image/")
		if err != nil {
			cleanup()
			s.sendUploadError(w, err)
			return
		}
		stored = append(stored, f)
		urls = append(urls, f.URL)
	}

	list, err := s.deps.Store.AppendImages(r.Context(), username, urls, s.config.MaxImages)
	if err != nil {
		cleanup()
		s.logger.Error().Err(err).Str("user", username).Msg("failed to append images")
		sendError(w, "Failed to save images", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ImagesResponse{Success: true, ImageList: list})
}

// parseUpload reads a multipart body and returns 1..max files under field.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request, field string, max int) ([]*multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.Files.MaxBytes()*int64(max)+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, "Upload too large", http.StatusRequestEntityTooLarge)
		} else {
			sendError(w, "Invalid multipart body", http.StatusBadRequest)
		}
		return nil, false
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		sendError(w, "No file uploaded", http.StatusBadRequest)
		return nil, false
	}
	if len(files) > max {
		sendError(w, "Too many files", http.StatusBadRequest)
		return nil, false
	}
	return files, true
}

func (s *Server) saveUpload(fh *multipart.FileHeader, allowedPrefix string) (*storage.StoredFile, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.deps.Files.Save(fh.Filename, f, allowedPrefix)
}

func (s *Server) sendUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrFileTooLarge):
		sendError(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, storage.ErrEmptyFile), errors.Is(err, storage.ErrUnsupportedType):
		sendError(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error().Err(err).Msg("failed to store upload")
		sendError(w, "Failed to store upload", http.StatusInternalServerError)
	}
}
