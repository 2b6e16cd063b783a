// Package app wires the session engine together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"syncplayer/internal/api"
	"syncplayer/internal/config"
	"syncplayer/internal/database"
	"syncplayer/internal/hub"
	"syncplayer/internal/metrics"
	"syncplayer/internal/persistence"
	"syncplayer/internal/presence"
	"syncplayer/internal/router"
	"syncplayer/internal/session"
	"syncplayer/internal/websocket"
)

const limiterCleanupInterval = time.Minute

type Application struct {
	config     *config.Config
	log        zerolog.Logger
	metrics    *metrics.Metrics
	dbManager  *database.Manager
	registry   *websocket.Registry
	bridge     *persistence.Bridge
	sessionHub *hub.Hub
	limiter    *router.RateLimiter
	monitor    *presence.Monitor
	apiServer  *api.Server
	httpServer *http.Server

	mu     sync.Mutex
	addr   string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication migrates the schema and builds every component in
// dependency order: database, sockets, persistence, hub, router, API, HTTP.
func NewApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := database.Migrate(cfg.Database, "up"); err != nil {
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	dbManager, err := database.NewManager(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	m := metrics.New()
	registry := websocket.NewRegistry(log, m)
	bridge := persistence.New(dbManager, persistence.Options{
		QueueSize:    cfg.Session.PersistenceQueueSize,
		WriteTimeout: cfg.Database.Timeout,
		Logger:       log,
		Metrics:      m,
	})

	sessionHub := hub.New(hub.Deps{
		Registry:    session.NewRegistry(time.Now),
		Rooms:       dbManager,
		Catalog:     dbManager,
		Accounts:    dbManager,
		Broadcaster: registry,
		Persister:   bridge,
	}, hub.Options{
		MailboxSize:      cfg.Session.MailboxSize,
		ChatHistoryLimit: cfg.Session.ChatHistoryLimit,
		ChatMaxLength:    cfg.Session.ChatMaxLength,
		OperationTimeout: cfg.Database.Timeout,
		Logger:           log,
		Metrics:          m,
	})

	limiter := router.NewRateLimiter(cfg.RateLimit.EventsPerMinute, time.Now)
	messageRouter := router.NewRouter(sessionHub, limiter, log)

	monitor := presence.New(sessionHub, presence.Options{
		Interval:    cfg.Presence.SweepInterval,
		Threshold:   cfg.Presence.HeartbeatTimeout,
		Concurrency: cfg.Presence.SweepConcurrency,
		Logger:      log,
		Metrics:     m,
	})

	apiServer := api.NewServer(api.Deps{
		Rooms:    sessionHub,
		Accounts: dbManager,
		Health:   dbManager,
		Stats:    registry,
		Metrics:  m.Handler(),
	}, log)

	wsHandler := websocket.NewHandler(registry, dbManager, messageRouter, websocket.HandlerOptions{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		BufferSize:      cfg.WebSocket.BufferSize,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
	}, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/", apiServer)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log.With().Str("component", "app").Logger(),
		metrics:    m,
		dbManager:  dbManager,
		registry:   registry,
		bridge:     bridge,
		sessionHub: sessionHub,
		limiter:    limiter,
		monitor:    monitor,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start listens on the configured address and serves until Stop.
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve starts the background components and serves HTTP on ln. It returns
// once the server is accepting connections.
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	if err := app.sessionHub.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start session hub: %w", err)
	}
	app.bridge.Start()

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.mu.Lock()
	app.addr = ln.Addr().String()
	app.cancel = cancel
	app.mu.Unlock()

	app.monitor.Start(bg)
	app.wg.Add(1)
	go app.cleanupLimiter(bg)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.stopBackground()
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Str("addr", app.Addr()).Msg("syncplayer started")
		return nil
	case <-ctx.Done():
		_ = app.httpServer.Close()
		app.stopBackground()
		return ctx.Err()
	}
}

func (app *Application) cleanupLimiter(ctx context.Context) {
	defer app.wg.Done()
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			app.limiter.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (app *Application) stopBackground() {
	app.mu.Lock()
	cancel := app.cancel
	app.cancel = nil
	app.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	app.monitor.Stop()
	app.wg.Wait()
	if err := app.sessionHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.log.Error().Err(err).Msg("session hub shutdown error")
	}
	app.bridge.Stop()
}

// Stop shuts down in reverse dependency order: HTTP and sockets first, then
// the sweep and the hub, then pending write-backs, then the database.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down syncplayer")
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if n := app.registry.CloseAll(); n > 0 {
		app.log.Info().Int("connections", n).Msg("closed websocket connections")
	}
	app.stopBackground()
	if err := app.dbManager.Close(); err != nil {
		app.log.Error().Err(err).Msg("database shutdown error")
		return err
	}
	app.log.Info().Msg("syncplayer shutdown complete")
	return nil
}

// Addr is the address the server is listening on, or the configured address
// before Serve.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.addr != "" {
		return app.addr
	}
	return app.httpServer.Addr
}

// Store exposes the database for seeding and tests.
func (app *Application) Store() *database.Manager {
	return app.dbManager
}
