// Fraudlens - Hybrid fraud scoring for card transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/fraudlens/internal/api"
	"github.com/opensource-finance/fraudlens/internal/bus"
	"github.com/opensource-finance/fraudlens/internal/cache"
	"github.com/opensource-finance/fraudlens/internal/config"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/feedback"
	"github.com/opensource-finance/fraudlens/internal/metrics"
	"github.com/opensource-finance/fraudlens/internal/registry"
	"github.com/opensource-finance/fraudlens/internal/repository"
	"github.com/opensource-finance/fraudlens/internal/scoring"
	"github.com/opensource-finance/fraudlens/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(config.NewLogger(cfg.Logging))

	slog.Info("starting fraudlens",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"models_dir", cfg.Models.Dir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	deps := scoring.Dependencies{
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
	}

	if cfg.Feedback.Enabled {
		store, err := feedback.Open(cfg.Feedback.Path)
		if err != nil {
			slog.Error("failed to open feedback store", "path", cfg.Feedback.Path, "error", err)
			os.Exit(1)
		}
		defer store.Close()
		deps.Feedback = store
		slog.Info("feedback store initialized", "path", cfg.Feedback.Path)
	}

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	models, err := loadModels(ctx, cfg.Models)
	if err != nil {
		slog.Error("failed to load models", "dir", cfg.Models.Dir, "error", err)
		os.Exit(1)
	}

	svc, err := scoring.NewService(models, deps, scoring.Options{
		Derivations:        cfg.Features.Derivations,
		MaxBatchSamples:    cfg.Batch.MaxSamples,
		MaxWorkers:         cfg.Batch.MaxWorkers,
		PredictionTTL:      cfg.Cache.PredictionTTL,
		MinFeedbackSamples: cfg.Feedback.MinSamples,
		Overrides:          cfg.Ensemble,
	})
	if err != nil {
		slog.Error("failed to initialize scoring service", "error", err)
		os.Exit(1)
	}

	if err := svc.Restore(ctx); err != nil {
		slog.Warn("failed to restore ensemble config", "error", err)
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Worker.TenantIDs))
		}
	}

	srv := api.NewServer(cfg, svc, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudlens is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"models_loaded", svc.Ready(),
	)

	printBanner(cfg, svc, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudlens shutdown complete")
}

// loadModels reads the model directory. Missing artifacts yield nil models
// and the server answers 503 until POST /models/reload succeeds, unless
// models are required. Malformed artifacts always abort startup.
func loadModels(ctx context.Context, cfg domain.ModelsConfig) (*scoring.Models, error) {
	reg, err := registry.Load(ctx, cfg)
	switch {
	case err == nil:
		return scoring.ModelsFromRegistry(reg), nil
	case domain.IsConfiguration(err), cfg.Required:
		return nil, err
	default:
		slog.Warn("models not loaded, serving degraded", "dir", cfg.Dir, "error", err)
		return nil, nil
	}
}

func printBanner(cfg *domain.Config, svc *scoring.Service, version string) {
	ensemble := "not loaded"
	if c, err := svc.Config(); err == nil {
		ensemble = fmt.Sprintf("iso=%.2f xgb=%.2f threshold=%.2f (v%d)", c.IsoWeight, c.XGBWeight, c.Threshold, c.Version)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                FRAUDLENS                  ║")
	fmt.Println("  ║       Hybrid Fraud Scoring Engine         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Ensemble: %s\n", ensemble)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict              - Score one transaction")
	fmt.Println("    POST /predict_batch        - Score a batch of transactions")
	fmt.Println("    GET  /predictions/{id}     - Get a stored prediction")
	fmt.Println("    POST /feedback             - Record a confirmed label")
	fmt.Println("    GET  /stream               - Websocket decision feed")
	fmt.Println("    GET  /features             - Feature order")
	fmt.Println("    GET  /metrics              - Training metrics and ensemble")
	fmt.Println("    POST /models/reload        - Reload model artifacts")
	fmt.Println("    GET  /ensemble             - Current ensemble config")
	fmt.Println("    PUT  /ensemble/weights     - Update blend weights")
	fmt.Println("    PUT  /ensemble/threshold   - Update decision threshold")
	fmt.Println("    POST /ensemble/calibrate   - Re-optimize threshold from feedback")
	fmt.Println("    GET  /ensemble/history     - Config history")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
