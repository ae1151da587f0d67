package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/draftbay/corpus/internal/blob"
	"github.com/draftbay/corpus/internal/config"
	"github.com/draftbay/corpus/internal/embedding"
	"github.com/draftbay/corpus/internal/ingest"
	logpkg "github.com/draftbay/corpus/internal/logger"
	"github.com/draftbay/corpus/internal/metrics"
	"github.com/draftbay/corpus/internal/retrieval"
	"github.com/draftbay/corpus/internal/storage"
	"github.com/draftbay/corpus/internal/transport/rest"
	"github.com/draftbay/corpus/internal/vectorindex"
	"github.com/draftbay/corpus/internal/version"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting corpus API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("vector_index_addrs", cfg.VectorIndex.Addrs),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metadata store (Postgres) — also applies the schema on startup.
	store, err := storage.New(ctx, cfg.Postgres.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer store.Close()
	logger.Info("Connected to postgres")

	// Vector index (Redis with RediSearch).
	index, err := vectorindex.New(vectorindex.Config{
		Addrs:      cfg.VectorIndex.Addrs,
		Username:   cfg.VectorIndex.Username,
		Password:   cfg.VectorIndex.Password,
		DB:         cfg.VectorIndex.DB,
		Collection: cfg.VectorIndex.Collection,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		logger.Fatal("Failed to create vector index client", zap.Error(err))
	}
	defer index.Close()

	if err := index.WaitForReady(ctx, time.Duration(cfg.VectorIndex.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Vector index not ready", zap.Error(err))
	}
	if err := index.EnsureCollection(ctx); err != nil {
		logger.Fatal("Failed to ensure vector collection", zap.Error(err))
	}
	logger.Info("Vector index ready",
		zap.String("collection", cfg.VectorIndex.Collection),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterIngestMetrics()

	embedder := embedding.New(&embedding.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Blob archive is optional. Pass nil interfaces (not typed nil pointers!)
	// when it is not configured.
	var ingestBlobs ingest.BlobStore
	var restBlobs rest.BlobDeleter
	if cfg.Blob.Enabled() {
		blobs, err := blob.New(ctx, blob.Config{
			Region:    cfg.Blob.Region,
			Bucket:    cfg.Blob.Bucket,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
		})
		if err != nil {
			logger.Fatal("Failed to create blob client", zap.Error(err))
		}
		ingestBlobs = blobs
		restBlobs = blobs
		logger.Info("Blob archive enabled", zap.String("bucket", cfg.Blob.Bucket))
	}

	ingestor := ingest.New(store, embedder, index, ingestBlobs, ingest.Config{
		Workers:       cfg.Ingest.Workers,
		QueueSize:     cfg.Ingest.QueueSize,
		MaxChars:      cfg.Ingest.MaxChars,
		Overlap:       cfg.Ingest.Overlap,
		StaleAfter:    time.Duration(cfg.Ingest.StaleAfterMin) * time.Minute,
		SweepInterval: time.Duration(cfg.Ingest.SweepIntervalMin) * time.Minute,
		JobTimeout:    time.Duration(cfg.Ingest.JobTimeoutSec) * time.Second,
	}, logger)

	retriever := retrieval.New(embedder, index,
		time.Duration(cfg.Retrieval.TimeoutSec)*time.Second, logger)

	server := rest.NewServer(store, ingestor, index, restBlobs, retriever, index, rest.Config{
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		APIKeys:        cfg.Auth.APIKeys,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		if err := ingestor.Run(ctx); err != nil {
			logger.Error("Ingestion pipeline stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Workers exit once ctx is cancelled; in-flight jobs finish under
	// their own timeout.
	select {
	case <-ingestDone:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for ingestion workers")
	}

	logger.Info("Server stopped gracefully")
}
