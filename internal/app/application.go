// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"wired/internal/account"
	"wired/internal/api"
	"wired/internal/config"
	"wired/internal/database"
	"wired/internal/hub"
	"wired/internal/presence"
	"wired/internal/router"
	"wired/internal/session"
	"wired/internal/storage"
	"wired/internal/websocket"
)

// Application coordinates all system components.
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	db         *database.Manager
	sessions   *session.Manager
	registry   *presence.RoomRegistry
	router     *router.Router
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication builds every component in dependency order:
// database, accounts, sessions, storage, presence, router, hub, socket, API.
func NewApplication(cfg *config.Config, logger *zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.NewManager(cfg.DatabaseConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	app, err := build(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func build(cfg *config.Config, db *database.Manager, logger *zerolog.Logger) (*Application, error) {
	accounts, err := account.NewService(db, cfg.Session.BcryptCost, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize accounts: %w", err)
	}

	sessions, err := session.NewManager(db, cfg.Session.TTL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sessions: %w", err)
	}

	files, err := storage.NewFileStore(cfg.Uploads.Dir, cfg.Uploads.URLPrefix, cfg.Uploads.MaxFileBytes, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}

	registry, err := presence.NewRoomRegistry(cfg.Chat.RoomCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize room registry: %w", err)
	}
	for _, room := range cfg.Chat.DefaultRooms {
		registry.Ensure(room)
	}

	limiter, err := router.NewRateLimiter(cfg.Chat.RateLimitMessages, cfg.Chat.RateLimitWindow, cfg.Chat.MaxMessageLength)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	rt := router.NewRouter(logger)
	chatHub := hub.NewHub(registry, rt, limiter, logger)

	socket := websocket.NewHandler(chatHub, sessions, websocket.HandlerConfig{
		RequireSession: cfg.WebSocket.RequireSession,
		CookieName:     cfg.Session.CookieName,
		SendBufferSize: cfg.WebSocket.BufferSize,
		MaxFrameBytes:  cfg.WebSocket.MaxFrameBytes,
		PingInterval:   cfg.WebSocket.PingInterval,
		PongTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger)

	apiServer := api.NewServer(api.Dependencies{
		Accounts:    accounts,
		Sessions:    sessions,
		Store:       db,
		Files:       files,
		Rooms:       registry,
		Connections: rt,
		Socket:      socket,
	}, api.Config{
		CookieName:    cfg.Session.CookieName,
		SessionTTL:    cfg.Session.TTL,
		SecureCookie:  cfg.Session.SecureCookie,
		MaxImages:     cfg.Uploads.MaxImages,
		AuthRateLimit: cfg.HTTP.AuthRateLimit,
		AuthRateBurst: cfg.HTTP.AuthRateBurst,
		StaticDir:     cfg.HTTP.StaticDir,
	}, logger)

	return &Application{
		config:    cfg,
		logger:    logger.With().Str("component", "app").Logger(),
		db:        db,
		sessions:  sessions,
		registry:  registry,
		router:    rt,
		hub:       chatHub,
		apiServer: apiServer,
		httpServer: &http.Server{
			Addr:         cfg.Address(),
			Handler:      apiServer,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		},
	}, nil
}

// Start launches the hub, the background maintenance loops and the HTTP
// listener. It returns once the listener is bound.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return errors.New("application already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start chat hub: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		cancel()
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln
	app.cancel = cancel

	app.wg.Add(3)
	go func() {
		defer app.wg.Done()
		app.sessions.RunCleanup(runCtx, app.config.Session.CleanupInterval)
	}()
	go func() {
		defer app.wg.Done()
		app.apiServer.RunMaintenance(runCtx)
	}()
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	app.logger.Info().Str("addr", ln.Addr().String()).Msg("wired started")
	return nil
}

// Stop shuts down in reverse dependency order: HTTP, hub, background loops, database.
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	var errs []error
	if app.listener != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
		if n := app.router.CloseAll(); n > 0 {
			app.logger.Info().Int("connections", n).Msg("closed open sockets")
		}
		app.cancel()
		app.wg.Wait()
	}
	if err := app.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.logger.Info().Msg("wired stopped")
	return errors.Join(errs...)
}

// Addr returns the bound listener address, or the configured one before Start.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
