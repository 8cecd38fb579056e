// Package main runs the birdgate service: a session-pooled fetch pipeline
// that retrieves tweets, conversations, and timelines from a hostile
// upstream API and re-exports them as a stable JSON model.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"birdgate/cache"
	"birdgate/config"
	"birdgate/server"
	"birdgate/session"
	"birdgate/thread"
	"birdgate/transport"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(configPath())
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	// Session record source: local file for development, Cloud Storage in
	// production.
	var gcsClient *gstorage.Client
	if cfg.Sessions.Path == "" {
		if cfg.Sessions.Bucket == "" || cfg.Sessions.Object == "" {
			logger.Error("Either sessions.path or sessions.bucket+object is required")
			os.Exit(1)
		}
		gcsClient, err = gstorage.NewClient(ctx, option.WithScopes(gstorage.ScopeReadWrite))
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := gcsClient.Close(); closeErr != nil {
				logger.Warn("Failed to close storage client", "error", closeErr)
			}
		}()
		logger.Info("Using Cloud Storage session records",
			"bucket", cfg.Sessions.Bucket, "object", cfg.Sessions.Object)
	} else {
		logger.Info("Using local session records", "path", cfg.Sessions.Path)
	}

	store := session.NewStore(gcsClient, cfg.Sessions.Bucket, cfg.Sessions.Object, cfg.Sessions.Path, logger)
	pool := session.NewPool(store, cfg.Sessions.AcquireWaitCeiling.Std(), logger)
	loaded, err := pool.Load(ctx)
	if err != nil {
		logger.Error("Failed to load sessions", "error", err)
		os.Exit(1)
	}
	if loaded == 0 {
		logger.Warn("No sessions loaded; every request will fail until records arrive")
	}
	go pool.ReloadEvery(ctx, cfg.Sessions.ReloadInterval.Std())

	var persist *cache.Store
	if cfg.Cache.DBPath != "" {
		persist, err = cache.OpenStore(cfg.Cache.DBPath)
		if err != nil {
			logger.Error("Failed to open persistent cache", "path", cfg.Cache.DBPath, "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := persist.Close(); closeErr != nil {
				logger.Warn("Failed to close persistent cache", "error", closeErr)
			}
		}()
		go prunePersistent(ctx, persist, logger)
	}

	client := transport.New(transport.Config{
		Logger:   logger,
		BaseURL:  cfg.Upstream.BaseURL,
		Bearer:   cfg.Upstream.Bearer,
		Timeout:  cfg.Upstream.Timeout.Std(),
		Attempts: cfg.Upstream.RetryAttempts,
		RPS:      cfg.Upstream.RPS,
		Burst:    cfg.Upstream.Burst,
	})

	svc := thread.NewService(thread.Config{
		Pool:   pool,
		Fetch:  client,
		Store:  persist,
		Logger: logger,
		TTL: thread.TTLs{
			Conversation: cfg.Cache.ConversationTTL.Std(),
			Immutable:    cfg.Cache.ImmutableTTL.Std(),
			Timeline:     cfg.Cache.TimelineTTL.Std(),
			User:         cfg.Cache.UserTTL.Std(),
			Negative:     cfg.Cache.NegativeTTL.Std(),
		},
	})
	go svc.SweepCaches(ctx, time.Minute)

	srv := server.New(&server.Config{
		Querier:        svc,
		Pool:           pool,
		Logger:         logger,
		RequestTimeout: cfg.Server.RequestTimeout.Std(),
	})
	if err := srv.ListenAndServe(cfg.Server.Port); err != nil {
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./birdgate.yaml"
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func prunePersistent(ctx context.Context, persist *cache.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := persist.Prune(ctx, time.Now()); err != nil {
				logger.Warn("Failed to prune persistent cache", "error", err)
			}
		}
	}
}
