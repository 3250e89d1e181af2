package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tobyfell/imagepress/internal/batch"
	"github.com/tobyfell/imagepress/internal/codec"
	"github.com/tobyfell/imagepress/internal/config"
	"github.com/tobyfell/imagepress/internal/format"
	"github.com/tobyfell/imagepress/internal/storage"
	"github.com/tobyfell/imagepress/internal/store"
	"github.com/tobyfell/imagepress/internal/telemetry"
	"github.com/tobyfell/imagepress/internal/validate"
	"github.com/tobyfell/imagepress/internal/webhook"
	"github.com/tobyfell/imagepress/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagepress-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	if err := codec.Startup(); err != nil {
		logger.Fatalf("codec startup failed: %v", err)
	}
	defer codec.Shutdown()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("object storage setup failed: %v", err)
	}
	ensureCtx, cancelEnsure := context.WithTimeout(context.Background(), 10*time.Second)
	if err := storageClient.EnsureBucket(ensureCtx); err != nil {
		logger.Printf("ensure bucket failed: %v", err)
	}
	cancelEnsure()

	batches := newBatchStore(logger, cfg.Database.DSN)

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		MaxAttempts:   cfg.Webhook.MaxAttempts,
	})

	encoder, err := codec.New()
	if err != nil {
		logger.Fatalf("encoder setup failed: %v", err)
	}
	processor := batch.NewProcessor(
		format.NewPolicy(format.Qualities{
			WebP: cfg.Convert.WebPQuality,
			JPEG: cfg.Convert.JPEGQuality,
			AVIF: cfg.Convert.AVIFQuality,
		}),
		validate.New(validate.Limits{
			MaxFileSizeBytes: cfg.Convert.MaxFileSizeBytes,
			MaxPixels:        cfg.Convert.MaxPixels,
		}),
		encoder,
		cfg.Convert.Parallelism,
	)

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, processor, storageClient, webhookClient, batches)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_batches=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func newBatchStore(logger *log.Logger, dsn string) store.BatchStore {
	if strings.TrimSpace(dsn) == "" {
		logger.Printf("no database configured, using in-memory batch store")
		return store.NewMemoryBatchStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := store.NewPostgresBatchStore(ctx, dsn)
	if err != nil {
		logger.Printf("database unavailable, using in-memory batch store: %v", err)
		return store.NewMemoryBatchStore()
	}

	logger.Printf("using postgres batch store")
	return pg
}
