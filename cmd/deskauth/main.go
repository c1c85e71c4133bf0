// Command deskauth serves login, refresh and logout for the support chat
// backend over HTTP.
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

	"github.com/MrEthical07/deskauth"
	"github.com/MrEthical07/deskauth/internal/slogx"
	"github.com/MrEthical07/deskauth/kv"
	"github.com/MrEthical07/deskauth/password"
	"github.com/MrEthical07/deskauth/userstore"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deskauth: %v\n", err)
		os.Exit(1)
	}

	logger := slogx.New(slogx.Config{
		Service: "deskauth",
		Version: version,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	if err := initSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Error("init_sentry_failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server_failed", "error", err)
		sentry.CaptureException(err)
	}
	sentry.Flush(2 * time.Second)
	if err != nil {
		os.Exit(1)
	}
}

func initSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          "deskauth@" + version,
		AttachStacktrace: true,
	})
}

func run(ctx context.Context, cfg appConfig, logger *slog.Logger) error {
	rdb, err := kv.Open(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("open redis: %w", err)
	}
	defer rdb.Close()

	hasher, err := password.New(password.DefaultConfig())
	if err != nil {
		return err
	}

	checks := map[string]pinger{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	var users deskauth.UserProvider
	if cfg.DatabaseURL != "" {
		pool, err := userstore.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pool.Close()
		checks["postgres"] = pool.Ping

		if cfg.CreateSchema {
			if _, err := pool.Exec(ctx, userstore.Schema); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}

		store := userstore.NewPostgres(pool, hasher, userstore.WithLogger(logger))
		if cfg.SeedEmail != "" {
			if _, err := store.Upsert(ctx, deskauth.User{Email: cfg.SeedEmail, Role: cfg.SeedRole}, cfg.SeedPassword); err != nil {
				return fmt.Errorf("seed user: %w", err)
			}
		}
		users = store
	} else {
		store := userstore.NewMemory(hasher)
		if cfg.SeedEmail != "" {
			if _, err := store.Add(deskauth.User{Email: cfg.SeedEmail, Role: cfg.SeedRole}, cfg.SeedPassword); err != nil {
				return fmt.Errorf("seed user: %w", err)
			}
		} else {
			logger.Warn("memory_user_store_empty", "hint", "set DATABASE_URL or DESKAUTH_SEED_EMAIL")
		}
		users = store
	}

	engine, err := deskauth.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithUserProvider(users).
		WithLogger(logger).
		WithAuditSink(deskauth.NewSlogSink(logger.With("component", "audit"))).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("engine_ready",
		"signing_algorithm", report.SigningAlgorithm,
		"access_ttl", report.AccessTTL,
		"refresh_ttl", report.RefreshTTL,
		"max_failures", report.MaxFailures,
		"lockout_window", report.LockoutWindow,
		"audit", report.AuditEnabled,
	)

	srv := &server{
		engine:      engine,
		logger:      logger,
		strictLogin: cfg.StrictLogin,
		checks:      checks,
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(cfg.TrustProxy, cfg.Throttle),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_start", "addr", cfg.Addr, "strict_login", cfg.StrictLogin)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
