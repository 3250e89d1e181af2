package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tobyfell/imagepress/internal/api"
	"github.com/tobyfell/imagepress/internal/batch"
	"github.com/tobyfell/imagepress/internal/codec"
	"github.com/tobyfell/imagepress/internal/config"
	"github.com/tobyfell/imagepress/internal/format"
	"github.com/tobyfell/imagepress/internal/queue"
	"github.com/tobyfell/imagepress/internal/ratelimit"
	"github.com/tobyfell/imagepress/internal/storage"
	"github.com/tobyfell/imagepress/internal/store"
	"github.com/tobyfell/imagepress/internal/telemetry"
	"github.com/tobyfell/imagepress/internal/validate"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagepress-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if err := codec.Startup(); err != nil {
		logger.Fatalf("codec startup failed: %v", err)
	}
	defer codec.Shutdown()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	batches := newBatchStore(logger, cfg.Database.DSN)

	var objectStorage *storage.Client
	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Printf("object storage unavailable, async batches disabled: %v", err)
	} else {
		ensureCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := storageClient.EnsureBucket(ensureCtx); err != nil {
			logger.Printf("ensure bucket failed: %v", err)
		}
		cancel()
		objectStorage = storageClient
	}

	var rateLimiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		rateLimiter = limiter
	}

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

	opts := api.Options{
		Processor:       processor,
		MaxRequestBytes: cfg.Convert.MaxRequestBytes,
		Queue:           queueClient,
		Batches:         batches,
		PresignTTL:      cfg.Storage.PresignTTL,
		RateLimiter:     rateLimiter,
	}
	if objectStorage != nil {
		opts.Storage = objectStorage
	}
	app := api.NewServer(logger, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

// newBatchStore picks postgres when a DSN is configured and falls back
// to the in-memory store otherwise.
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
