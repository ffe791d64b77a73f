package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"rentchain-ledger/internal/api"
	"rentchain-ledger/internal/config"
	"rentchain-ledger/internal/db"
	"rentchain-ledger/internal/telemetry"
	"rentchain-ledger/pkg/ledger"
	"rentchain-ledger/pkg/scopelock"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "rentchain-ledger", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	store, closeStore, err := db.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("ledger store ready", "driver", cfg.StoreDriver)

	opts := []ledger.Option{
		ledger.WithLogger(logger.With("component", "ledger")),
		ledger.WithStoreTimeout(cfg.StoreTimeout),
		ledger.WithVerifyTimeout(cfg.VerifyTimeout),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		opts = append(opts, ledger.WithLocker(scopelock.NewRedisLocker(rdb, "ledger:lock:", cfg.LockTTL, logger)))
		logger.Info("per-scope append lock", "backend", "redis", "addr", cfg.RedisAddr)
	}

	bus := ledger.NewBus(store)
	svc := ledger.NewService(bus, opts...)
	handler := api.New(svc, bus, api.Options{
		Logger:         logger,
		JWTSecret:      cfg.JWTSecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; every ledger request will be rejected")
	}

	// No WriteTimeout: /ledger/stream responses are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rentchain-ledger listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
