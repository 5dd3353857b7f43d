package main

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

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"supportchat/server/chat"
	"supportchat/server/config"
	"supportchat/server/handler"
	"supportchat/server/identity"
	"supportchat/server/logging"
	"supportchat/server/room"
	"supportchat/server/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("relay exiting")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messages, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := messages.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	resolver, closeResolver, err := openResolver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeResolver()

	registry := room.NewRegistry(logger)
	replayer := chat.NewReplayer(messages, resolver, chat.ReplayerOptions{
		UserLimit:  cfg.HistoryLimit,
		AdminLimit: cfg.AdminHistoryLimit,
	}, logger)
	router := chat.NewRouter(messages, registry, replayer, chat.RouterOptions{
		MaxMessageRunes: cfg.MaxMessageRunes,
	}, logger)
	supervisor := room.NewSupervisor(registry, room.SupervisorOptions{
		Interval:        cfg.HeartbeatInterval,
		MaxMissedProbes: cfg.MaxMissedProbes,
	}, logger)
	ws := handler.NewWebSocketHandler(resolver, registry, router, replayer, handler.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		WriteTimeout:    cfg.WriteTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}, logger)

	r := mux.NewRouter()
	r.HandleFunc("/health", handler.HandleHealth(registry)).Methods(http.MethodGet)
	r.HandleFunc("/stats", handler.HandleStats(registry)).Methods(http.MethodGet)
	r.Handle("/ws", ws)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-User-Id"},
			MaxAge:         300,
		})(r),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening", "addr", cfg.Addr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return supervisor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		// The store is closed only after in-flight frames finish.
		if err := ws.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("drain websocket connections: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (store.MessageStore, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	case config.StorePostgres:
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return store.NewMemoryStore(), nil
	}
}

func openResolver(ctx context.Context, cfg config.Config, logger *slog.Logger) (identity.Resolver, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using static identities", "admins", len(cfg.AdminIDs))
		return identity.NewStaticResolver(cfg.AdminIDs, nil), func() {}, nil
	}
	resolver := identity.NewRedisResolver(cfg.RedisAddr, cfg.RedisPassword)
	if err := resolver.Ping(ctx); err != nil {
		_ = resolver.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("using redis identities", "addr", cfg.RedisAddr)
	return resolver, func() { _ = resolver.Close() }, nil
}
