// cartsyncd keeps a shopper's cart and wishlist in sync between a local cache
// and the remote collection service, and serves them over REST and MCP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartsync/internal/catalog"
	"cartsync/internal/config"
	"cartsync/internal/handler"
	"cartsync/internal/identity"
	"cartsync/internal/middleware"
	"cartsync/internal/model"
	"cartsync/internal/persist"
	"cartsync/internal/persist/redisstore"
	"cartsync/internal/persist/sqlstore"
	"cartsync/internal/remote"
	"cartsync/internal/store"
	"cartsync/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := initLogger(cfg)

	logger.Info("configuration loaded",
		slog.String("storefront_id", cfg.StorefrontID),
		slog.String("environment", cfg.Environment),
		slog.String("remote_mode", cfg.Remote.Mode),
		slog.String("cache_backend", cfg.Cache.Backend),
	)

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer backend.Close()

	svc, err := createRemote(cfg)
	if err != nil {
		return fmt.Errorf("creating remote service: %w", err)
	}

	rules, err := catalog.NewRules(cfg.Availability, nil)
	if err != nil {
		return fmt.Errorf("building availability rules: %w", err)
	}

	session := identity.NewSignal(identity.Identity{})

	cart, err := newController(cfg, backend, svc, session, rules, model.KindCart, 0, logger)
	if err != nil {
		return err
	}
	wishlist, err := newController(cfg, backend, svc, session, rules, model.KindWishlist, cfg.WishlistWindow, logger)
	if err != nil {
		return err
	}
	controllers := []*syncer.Controller{cart, wishlist}
	for _, c := range controllers {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("starting %s: %w", c.Kind(), err)
		}
	}

	h := handler.New(session, cfg.Pricing, logger, controllers...)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	if mem, ok := svc.(*remote.Memory); ok {
		// lets other daemons run in http mode against this one
		remote.NewServer(mem, logger).RegisterRoutes(mux)
	}

	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Session(logger),
	)(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			stopAll(controllers, logger)
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			stopAll(controllers, logger)
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	stopAll(controllers, logger)
	logger.Info("server stopped")
	return nil
}

// stopAll stops the controllers, flushing pending cache writes.
func stopAll(controllers []*syncer.Controller, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, c := range controllers {
		if err := c.Stop(ctx); err != nil {
			logger.Warn("stopping controller",
				slog.String("kind", string(c.Kind())),
				slog.String("error", err.Error()),
			)
		}
	}
}

func newController(
	cfg *config.Config,
	backend persist.Backend,
	svc remote.Service,
	session *identity.Signal,
	rules *catalog.Rules,
	kind model.Kind,
	window time.Duration,
	logger *slog.Logger,
) (*syncer.Controller, error) {
	adapter := persist.NewAdapter(backend, kind,
		persist.WithNamespace(cfg.StorefrontID),
		persist.WithLogger(logger),
	)
	c, err := syncer.New(syncer.Options{
		Store:       store.New(kind),
		Cache:       adapter,
		Writer:      persist.NewWriter(adapter, cfg.Cache.Debounce, logger),
		Remote:      svc,
		Identity:    session,
		Catalog:     rules,
		CacheWindow: window,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s controller: %w", kind, err)
	}
	return c, nil
}

// openBackend opens the configured cache backend.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (persist.Backend, error) {
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		return persist.NewMemory(), nil
	case config.CacheFile:
		return persist.NewFile(cfg.Cache.Dir, cfg.Cache.Poll)
	case config.CacheRedis:
		rc := redisstore.DefaultConfig()
		rc.Addr = cfg.Cache.RedisAddr
		rc.Prefix = cfg.Cache.RedisPrefix
		return redisstore.Open(ctx, rc, logger)
	case config.CacheSQLite:
		return sqlstore.Open(cfg.Cache.SQLitePath, cfg.Cache.Poll)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

// createRemote creates the collection service for the configured mode.
// A nil service keeps every collection local-only.
func createRemote(cfg *config.Config) (remote.Service, error) {
	switch cfg.Remote.Mode {
	case config.RemoteHTTP:
		return remote.New(remote.Config{
			BaseURL:           cfg.Remote.BaseURL,
			APIKey:            cfg.Remote.APIKey,
			Timeout:           cfg.Remote.Timeout,
			ChromeTLS:         cfg.Remote.ChromeTLS,
			RequestsPerSecond: cfg.Remote.RequestsPerSecond,
			Burst:             cfg.Remote.Burst,
		})
	case config.RemoteMemory:
		return remote.NewMemory(), nil
	case config.RemoteOff:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported remote mode: %s", cfg.Remote.Mode)
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
