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

	"github.com/starford/tiwaz/internal/api"
	"github.com/starford/tiwaz/internal/jobs"
	"github.com/starford/tiwaz/internal/mcpserver"
	"github.com/starford/tiwaz/internal/store"
)

const cachePruneSchedule = "@every 1m"

func configure(opts []Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// Run starts the HTTP server, the vault watcher and the scheduled jobs.
func Run(ctx context.Context, opts ...Option) error {
	app, err := configure(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(cfg.App.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Records.VaultPath),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("record_types", len(cfg.Records.Types)),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.Bool("google_enabled", cfg.Google.Enabled),
		slog.String("mail_provider", cfg.Mail.Provider),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	scheduler := jobs.New(logger)
	if err := scheduler.Add(jobs.Job{
		Name:     "vault_resync",
		Schedule: cfg.Records.ResyncSchedule,
		Run: func(ctx context.Context) error {
			stats, err := store.Sync(ctx, svc.db, svc.files, logger, svc.broker.PublishRecordEvent)
			if err != nil {
				return err
			}
			if stats.Indexed > 0 || stats.Removed > 0 {
				logger.Info("vault resync applied changes",
					slog.Int("indexed", stats.Indexed),
					slog.Int("removed", stats.Removed))
			}
			return nil
		},
	}); err != nil {
		return fmt.Errorf("schedule resync: %w", err)
	}
	if err := scheduler.Add(jobs.Job{
		Name:     "cache_prune",
		Schedule: cachePruneSchedule,
		Run: func(context.Context) error {
			for name, c := range svc.caches {
				if n := c.Prune(); n > 0 {
					logger.Debug("cache pruned", slog.String("cache", name), slog.Int("entries", n))
				}
			}
			return nil
		},
	}); err != nil {
		return fmt.Errorf("schedule cache prune: %w", err)
	}

	apiRouter := api.NewRouter(svc.pipeline, cfg.Auth.AuthEnabled(), cfg.Auth.Users(), cfg.Auth.DefaultUser, svc.broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := svc.db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
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

	// Start vault watcher with SSE callback.
	if cfg.Records.Watch {
		g.Go(func() error {
			if err := store.Watch(gCtx, svc.db, svc.files, cfg.Records.VaultPath, logger, svc.broker.PublishRecordEvent); err != nil {
				logger.Error("vault watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start scheduled jobs.
	g.Go(func() error {
		return scheduler.Run(gCtx)
	})

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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.HTTP.ShutdownTimeout)
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

// errShutdown cancels the group so the watcher and scheduler stop with
// the HTTP server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the operation catalogue over MCP stdio. Logs go to stderr
// because stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := configure(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg.App.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := mcpserver.New(svc.pipeline, cfg.Auth.DefaultUser, app.version)
	logger.Info("MCP server starting on stdio", slog.Int("tools", len(srv.ToolNames())))
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// RunSync reconciles the record index with the vault once and exits.
func RunSync(ctx context.Context, opts ...Option) (store.SyncStats, error) {
	app, err := configure(opts)
	if err != nil {
		return store.SyncStats{}, err
	}
	cfg := app.config

	logger := newLogger(cfg.App.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	files, db, err := openVault(cfg)
	if err != nil {
		return store.SyncStats{}, err
	}
	defer db.Close()

	stats, err := store.Sync(ctx, db, files, logger, nil)
	if err != nil {
		return stats, fmt.Errorf("sync: %w", err)
	}
	return stats, nil
}
