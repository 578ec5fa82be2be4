// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/marginalia/internal/api"
	"github.com/starford/marginalia/internal/docservice"
	"github.com/starford/marginalia/internal/highlights"
	"github.com/starford/marginalia/internal/index"
	"github.com/starford/marginalia/internal/mcpserver"
	"github.com/starford/marginalia/internal/sanitize"
	"github.com/starford/marginalia/internal/sse"
	"github.com/starford/marginalia/internal/storage"
)

// core holds the components shared by the HTTP and MCP entry points.
type core struct {
	db         *index.DB
	indexer    *index.Indexer
	highlights *highlights.Store
	svc        *docservice.Service
}

func (c *core) close() {
	c.highlights.Close()
	_ = c.db.Close()
}

func newCore(cfg *Config, logger *slog.Logger, observer func(highlights.Event)) (*core, error) {
	// Ensure library directory exists.
	if err := os.MkdirAll(cfg.Library.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Library.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	san := sanitize.New()
	indexer := index.NewIndexer(db, store, san, logger)

	// Run initial sync.
	if err := indexer.Sync(); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	opts := []highlights.Option{highlights.WithLogger(logger)}
	if observer != nil {
		opts = append(opts, highlights.WithObserver(observer))
	}
	hl := highlights.New(db, opts...)

	return &core{
		db:         db,
		indexer:    indexer,
		highlights: hl,
		svc:        docservice.NewService(store, db, indexer, san, hl, logger),
	}, nil
}

func resolve(opts []Option, out *os.File) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}
	return app, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := resolve(opts, os.Stdout)
	if err != nil {
		return err
	}
	cfg, logger := app.config, app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("library_path", cfg.Library.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(cfg.Events.LibraryThrottle)
	defer broker.Close()

	c, err := newCore(cfg, logger, broker.PublishHighlight)
	if err != nil {
		return err
	}
	defer c.close()

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	if cfg.Library.Watch {
		g.Go(func() error {
			err := c.indexer.Watch(gCtx, cfg.Library.Path, func(kind, path string) {
				if kind == index.KindDeleted {
					c.svc.Forget(path)
				}
				broker.PublishDocumentEvent(kind, path)
			})
			if err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group once the server has been shut down so the
// watcher stops too.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio until stdin closes. Logs go to
// stderr so they do not corrupt the protocol stream.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := resolve(opts, os.Stderr)
	if err != nil {
		return err
	}
	cfg, logger := app.config, app.logger
	slog.SetDefault(logger)

	c, err := newCore(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer c.close()

	logger.Info("MCP server starting", slog.String("library_path", cfg.Library.Path))
	return mcpserver.New(c.svc).ServeStdio()
}
