// Package main is the entry point for the image gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"imgproxy/config"
	"imgproxy/internal/embedding"
	"imgproxy/internal/logging"
	"imgproxy/internal/metadata"
	"imgproxy/internal/objectstore"
	"imgproxy/internal/pipeline"
	"imgproxy/internal/ratelimit"
	"imgproxy/internal/server"
	"imgproxy/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("starting imgproxy",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	// The store client resolves connectivity exactly once. A failed probe is
	// logged and the gateway still serves, answering 500/503 on store routes
	// until restarted.
	store := objectstore.New(cfg.Storage, logger)
	if !store.Connected() {
		slog.Warn("object store not connected, uploads and proxying will fail until restart")
	}

	embedder := embedding.New(cfg.Inference)
	if cfg.Inference.Endpoint == "" && cfg.Inference.Region == "" {
		slog.Warn("inference endpoint not configured, uploads will not be embedded")
	}

	recorder := metadata.New(cfg.Database)
	if cfg.Database.URL == "" {
		slog.Warn("database not configured, embeddings will not be recorded")
	}

	pipe := pipeline.New(store, embedder, recorder, pipeline.Config{
		DefaultBucket:     cfg.Storage.Bucket,
		MaxSize:           cfg.Upload.MaxSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
	}, logger)

	limits, err := ratelimit.NewFactory(cfg.RateLimit.StorageURL, logger)
	if err != nil {
		slog.Error("failed to initialize rate limiting", "error", err)
		os.Exit(1)
	}
	defer limits.Close() //nolint:errcheck

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	srv := server.New(store, pipe, limits, cfg, logger)

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
		} else {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}
