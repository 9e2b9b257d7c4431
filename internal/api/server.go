// Package api serves the HTTP surface: accounts, profile settings, uploads,
// the document library, room snapshots and health.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"wired/internal/storage"
	"wired/pkg/interfaces"
)

// RoomDirectory exposes read-only room membership.
type RoomDirectory interface {
	Snapshot() map[string]int
	Count(roomID string) int
	MembersOf(roomID string) []string
}

// ConnectionCounter reports live socket connections.
type ConnectionCounter interface {
	ConnectionCount() int
}

// Store is the persistence surface used by the handlers.
type Store interface {
	interfaces.SettingsStore
	interfaces.DocumentStore
	HealthCheck(ctx context.Context) error
}

// statsSource is implemented by stores that expose connection pool stats.
type statsSource interface {
	Stats() sql.DBStats
}

// Config holds the HTTP-level settings of the server.
type Config struct {
	CookieName    string
	SessionTTL    time.Duration
	SecureCookie  bool
	MaxImages     int
	AuthRateLimit float64
	AuthRateBurst int
	StaticDir     string
}

// Dependencies are the collaborators the server routes requests to.
type Dependencies struct {
	Accounts    interfaces.AccountService
	Sessions    interfaces.SessionManager
	Store       Store
	Files       *storage.FileStore
	Rooms       RoomDirectory
	Connections ConnectionCounter
	Socket      http.Handler
}

// Server is the HTTP handler of the application.
type Server struct {
	deps        Dependencies
	config      Config
	authLimiter *IPRateLimiter
	router      *http.ServeMux
	startedAt   time.Time
	logger      zerolog.Logger
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewServer builds the server and its routes.
func NewServer(deps Dependencies, config Config, logger *zerolog.Logger) *Server {
	s := &Server{
		deps:        deps,
		config:      config,
		authLimiter: NewIPRateLimiter(config.AuthRateLimit, config.AuthRateBurst),
		router:      http.NewServeMux(),
		startedAt:   time.Now(),
		logger:      logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.jsonMiddleware(h))
	}
	auth := func(h http.HandlerFunc) http.Handler {
		return api(s.requireSession(h))
	}

	s.router.Handle("POST /register", s.authLimiter.Middleware(api(s.handleRegister)))
	s.router.Handle("POST /login", s.authLimiter.Middleware(api(s.handleLogin)))
	s.router.Handle("POST /logout", api(s.handleLogout))

	s.router.Handle("GET /api/settings", auth(s.handleGetSettings))
	s.router.Handle("POST /save-settings", auth(s.handleSaveSettings))
	s.router.Handle("GET /api/profile", auth(s.handleGetProfile))
	s.router.Handle("POST /upload-avatar", auth(s.handleUploadAvatar))
	s.router.Handle("POST /upload-images", auth(s.handleUploadImages))

	s.router.Handle("GET /api/documents", auth(s.handleListDocuments))
	s.router.Handle("POST /api/documents", auth(s.handleCreateDocument))

	s.router.Handle("GET /api/rooms", api(s.handleRooms))
	s.router.Handle("GET /api/rooms/{room}", api(s.handleRoom))
	s.router.Handle("GET /health", api(s.healthCheck))
	s.router.Handle("OPTIONS /", s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	if s.deps.Files != nil {
		prefix := s.deps.Files.URLPrefix()
		s.router.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(s.deps.Files.Dir()))))
	}
	if s.deps.Socket != nil {
		s.router.Handle("GET /ws", s.deps.Socket)
	}
	if s.config.StaticDir != "" {
		s.router.Handle("GET /", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RunMaintenance prunes idle per-client limiter state until ctx is cancelled.
func (s *Server) RunMaintenance(ctx context.Context) {
	s.authLimiter.Run(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
