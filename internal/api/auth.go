package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"wired/internal/account"
	"wired/pkg/interfaces"
	"wired/pkg/types"
)

type contextKey int

const usernameKey contextKey = iota

type credentialsRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type AccountResponse struct {
	Username string `json:"username"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// decodeCredentials accepts either a JSON body or a url-encoded form.
func decodeCredentials(w http.ResponseWriter, r *http.Request) (*credentialsRequest, error) {
	var req credentialsRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	req.Username = r.PostForm.Get("username")
	req.Password = r.PostForm.Get("password")
	req.ConfirmPassword = r.PostForm.Get("confirmPassword")
	return &req, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(w, r)
	if err != nil {
		sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.deps.Accounts.Register(r.Context(), req.Username, req.Password, req.ConfirmPassword)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrPasswordMismatch), errors.Is(err, types.ErrWeakPassword),
		errors.Is(err, types.ErrInvalidUsername):
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, interfaces.ErrUserExists):
		sendError(w, "Username is already taken", http.StatusConflict)
		return
	default:
		s.logger.Error().Err(err).Msg("registration failed")
		sendError(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	if !s.openSession(w, r, user.Username) {
		return
	}
	writeJSON(w, http.StatusCreated, AccountResponse{Username: user.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(w, r)
	if err != nil {
		sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.deps.Accounts.VerifyCredentials(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrUserNotFound):
		sendError(w, "Unknown username", http.StatusBadRequest)
		return
	case errors.Is(err, account.ErrInvalidPassword):
		sendError(w, "Invalid password", http.StatusUnauthorized)
		return
	default:
		s.logger.Error().Err(err).Msg("login failed")
		sendError(w, "Login failed", http.StatusInternalServerError)
		return
	}

	if !s.openSession(w, r, user.Username) {
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Username: user.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(s.config.CookieName); err == nil && cookie.Value != "" {
		if err := s.deps.Sessions.EndSession(r.Context(), cookie.Value); err != nil {
			s.logger.Warn().Err(err).Msg("failed to end session")
		}
	}
	s.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request, username string) bool {
	session, err := s.deps.Sessions.CreateSession(r.Context(), username)
	if err != nil {
		s.logger.Error().Err(err).Str("user", username).Msg("failed to open session")
		sendError(w, "Failed to open session", http.StatusInternalServerError)
		return false
	}
	s.setSessionCookie(w, session.Token, int(s.config.SessionTTL/time.Second))
	return true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.config.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// requireSession resolves the session cookie and stores the username in the
// request context.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.config.CookieName)
		if err != nil || cookie.Value == "" {
			sendError(w, "Login required", http.StatusUnauthorized)
			return
		}
		session, err := s.deps.Sessions.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, interfaces.ErrSessionNotFound) {
				s.logger.Error().Err(err).Msg("session lookup failed")
			}
			sendError(w, "Login required", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), usernameKey, session.Username)))
	}
}

func usernameFrom(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}
