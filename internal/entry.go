// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/rulestore/internal/mcpserver"
	"github.com/starford/rulestore/internal/store"
	"github.com/starford/rulestore/internal/watch"
)

// NewLogger builds the JSON logger used by the server. Stdout carries the
// MCP protocol, so logs go to w (normally stderr).
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// OpenStore opens the store configured in cfg.
func OpenStore(cfg *Config, logger *slog.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.Store.Path,
		store.WithLogger(logger),
		store.WithRetryDelay(cfg.Store.RetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// FlushStore waits up to the configured flush timeout for pending writes.
func FlushStore(cfg *Config, st *store.Store, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.FlushTimeout)
	defer cancel()
	if err := st.Flush(ctx); err != nil {
		logger.Error("Pending writes not flushed", slog.String("error", err.Error()))
		return fmt.Errorf("flush store: %w", err)
	}
	return nil
}

// Run opens the store and serves it over MCP on stdio until the input is
// closed, ctx is cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{
		in:  os.Stdin,
		out: os.Stdout,
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = NewLogger(os.Stderr, cfg.App.LogLevel)
		slog.SetDefault(logger)
	}

	logger.Info("Configuration loaded",
		slog.String("store_path", cfg.Store.Path),
		slog.String("retry_delay", cfg.Store.RetryDelay.String()),
		slog.Bool("watch", cfg.Watch.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, err := OpenStore(cfg, logger)
	if err != nil {
		return err
	}

	srv := mcpserver.New(st, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(runCtx)

	if cfg.Watch.Enabled {
		g.Go(func() error {
			err := watch.Watch(gCtx, st.FilesDir(), st, watch.Options{
				Debounce: cfg.Watch.Debounce,
				Logger:   logger,
			})
			if err != nil {
				logger.Warn("Slot guard not running", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start MCP server.
	g.Go(func() error {
		defer cancel()
		err := srv.Serve(gCtx, app.in, app.out)
		if err != nil && gCtx.Err() == nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("MCP server error: %w", err)
		}
		logger.Info("MCP input closed")
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
			cancel()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		return nil
	})

	runErr := g.Wait()

	logger.Info("Flushing pending writes...")
	flushErr := FlushStore(cfg, st, logger)

	if runErr != nil {
		logger.Error("Application error", slog.String("error", runErr.Error()))
		return runErr
	}
	if flushErr != nil {
		return flushErr
	}

	logger.Info("Server stopped successfully")
	return nil
}
