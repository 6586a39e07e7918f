package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bank-dashboard/internal/config"
)

const hookTimeout = 10 * time.Second

// Hook runs on a lifecycle signal.
type Hook func(ctx context.Context) error

// GracefulServer runs an http.Server until SIGINT or SIGTERM. SIGHUP runs the
// reload hooks without stopping the listener.
type GracefulServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	shutdown []Hook
	reload   []Hook
	mu       sync.RWMutex
}

func NewGracefulServer(server *http.Server, logger *slog.Logger, config *config.Config) *GracefulServer {
	return &GracefulServer{
		server: server,
		logger: logger,
		config: config,
	}
}

func (gs *GracefulServer) RegisterShutdownHook(fn Hook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.shutdown = append(gs.shutdown, fn)
}

// RegisterReloadHook adds fn to the hooks run on SIGHUP. Hooks run in
// registration order; a failing hook is logged and the server keeps serving.
func (gs *GracefulServer) RegisterReloadHook(fn Hook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.reload = append(gs.reload, fn)
}

func (gs *GracefulServer) ListenAndServe() error {
	serverErrors := make(chan error, 1)

	go func() {
		gs.logger.Info("starting server",
			"addr", gs.server.Addr,
			"read_timeout", gs.config.Server.ReadTimeout,
			"write_timeout", gs.config.Server.WriteTimeout,
		)
		serverErrors <- gs.server.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case err := <-serverErrors:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil

		case sig := <-signals:
			if sig == syscall.SIGHUP {
				gs.Reload(context.Background())
				continue
			}

			gs.logger.Info("shutdown signal received", "signal", sig)

			ctx, cancel := context.WithTimeout(context.Background(), gs.config.Server.ShutdownTimeout)
			defer cancel()

			return gs.Shutdown(ctx)
		}
	}
}

// Reload runs the reload hooks and returns the first error.
func (gs *GracefulServer) Reload(ctx context.Context) error {
	gs.mu.RLock()
	hooks := append([]Hook(nil), gs.reload...)
	gs.mu.RUnlock()

	gs.logger.Info("reloading", "hooks", len(hooks))

	var first error
	for i, hook := range hooks {
		if err := runHook(ctx, hook); err != nil {
			gs.logger.Error("reload hook failed", "hook_index", i, "error", err)
			if first == nil {
				first = fmt.Errorf("reload hook %d failed: %w", i, err)
			}
		}
	}
	return first
}

// Shutdown stops the HTTP server and runs the shutdown hooks concurrently.
func (gs *GracefulServer) Shutdown(ctx context.Context) error {
	gs.logger.Info("starting graceful shutdown",
		"timeout", gs.config.Server.ShutdownTimeout,
	)

	gs.mu.RLock()
	hooks := append([]Hook(nil), gs.shutdown...)
	gs.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)

	for i, hook := range hooks {
		g.Go(func() error {
			gs.logger.Debug("executing shutdown hook", "hook_index", i)
			if err := runHook(gctx, hook); err != nil {
				gs.logger.Error("shutdown hook failed", "hook_index", i, "error", err)
				return fmt.Errorf("shutdown hook %d failed: %w", i, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		gs.logger.Info("stopping HTTP server")
		if err := gs.server.Shutdown(ctx); err != nil {
			gs.logger.Error("HTTP server shutdown failed", "error", err)
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		gs.logger.Info("HTTP server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			gs.logger.Warn("shutdown timeout exceeded, forcing exit")
		}
		return err
	}

	gs.logger.Info("graceful shutdown completed")
	return nil
}

func runHook(ctx context.Context, hook Hook) error {
	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()
	return hook(ctx)
}
