// Package main is the entry point for the repokb HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/repokb-go/internal/config"
	"github.com/raphaelgruber/repokb-go/internal/db"
	"github.com/raphaelgruber/repokb-go/internal/github"
	"github.com/raphaelgruber/repokb-go/internal/gitsource"
	"github.com/raphaelgruber/repokb-go/internal/llm"
	"github.com/raphaelgruber/repokb-go/internal/metrics"
	"github.com/raphaelgruber/repokb-go/internal/parser"
	"github.com/raphaelgruber/repokb-go/internal/server"
	"github.com/raphaelgruber/repokb-go/internal/service"
	"github.com/raphaelgruber/repokb-go/internal/store"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()

	// Dual output: stderr text + file JSON.
	logger, cleanup := config.SetupLogger(cfg)
	defer cleanup()

	logger.Info("repokb starting",
		"version", version,
		"addr", cfg.ServerAddr,
		"surrealdb_url", cfg.SurrealDBURL,
		"storage_endpoint", cfg.StorageEndpoint,
		"llm_provider", cfg.LLMProvider,
		"embedding_model", cfg.EmbeddingModel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	dbClient, err := db.NewClient(ctx, db.Config{
		URL:          cfg.SurrealDBURL,
		Namespace:    cfg.SurrealDBNamespace,
		Database:     cfg.SurrealDBDatabase,
		Username:     cfg.SurrealDBUser,
		Password:     cfg.SurrealDBPass,
		AuthLevel:    cfg.SurrealDBAuthLevel,
		EmbeddingDim: cfg.EmbeddingDimension,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing database connection")
		_ = dbClient.Close(ctx)
	}()

	if err := dbClient.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize database schema", "error", err)
		os.Exit(1)
	}

	objectStore, err := store.New(ctx, store.Config{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Bucket:    cfg.StorageBucket,
		UseSSL:    cfg.StorageUseSSL,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to object storage", "error", err)
		os.Exit(1)
	}

	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		logger.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	logger.Info("embedder initialized", "model", embedder.Model(), "dimension", embedder.Dimension())

	model, err := llm.NewModel(cfg)
	if err != nil {
		logger.Error("failed to create LLM", "error", err)
		os.Exit(1)
	}
	logger.Info("llm initialized", "model", model.Model())

	gitSvc := gitsource.New(cfg.WorkDir, cfg.MaxFileSize, logger)
	githubClient := github.NewClient(cfg.GitHubAPIBase, cfg.GitHubToken)

	jobs := service.NewJobManager(service.NewMemoryJobStore(), logger)
	chunkCfg := parser.ChunkConfig{
		MaxSize: cfg.ChunkThreshold,
		MinSize: parser.DefaultChunkConfig().MinSize,
		Overlap: cfg.ChunkOverlap,
	}

	stats := metrics.NewCollector()
	ingestSvc := service.NewIngestService(gitSvc, githubClient, embedder, objectStore, dbClient, jobs, service.IngestConfig{
		Chunk:     chunkCfg,
		Workers:   cfg.IngestWorkers,
		MaxIssues: cfg.MaxIssues,
		MaxPRs:    cfg.MaxPRs,
	}, logger).WithMetrics(stats)
	querySvc := service.NewQueryService(embedder, dbClient, model, logger).WithMetrics(stats)
	commitSvc := service.NewCommitService(gitSvc, model, logger)

	srv := server.New(cfg.ServerAddr, ingestSvc, querySvc, commitSvc, dbClient, logger).WithMetrics(stats)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
