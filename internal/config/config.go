package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Convert   ConvertConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
}

type APIConfig struct {
	Addr string
}

// ConvertConfig carries the conversion ceilings and per-format
// quality defaults. All of these are deployment knobs, not constants.
type ConvertConfig struct {
	// MaxFileSizeBytes caps one uploaded file.
	MaxFileSizeBytes int64
	// MaxRequestBytes caps the whole multipart body.
	MaxRequestBytes int64
	// MaxPixels caps decoded width*height; 0 disables the check.
	MaxPixels int64
	// Parallelism caps concurrent per-file conversions in one batch.
	Parallelism int
	WebPQuality int
	JPEGQuality int
	AVIFQuality int
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PresignTTL time.Duration
}

type DatabaseConfig struct {
	DSN string
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
}

type WebhookConfig struct {
	SigningSecret string
	MaxAttempts   int
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr: env("IMAGEPRESS_API_ADDR", ":8080"),
		},
		Convert: ConvertConfig{
			MaxFileSizeBytes: envInt64("IMAGEPRESS_MAX_FILE_BYTES", 25<<20),
			MaxRequestBytes:  envInt64("IMAGEPRESS_MAX_REQUEST_BYTES", 100<<20),
			MaxPixels:        envInt64("IMAGEPRESS_MAX_PIXELS", 2_000_000_000),
			Parallelism:      envInt("IMAGEPRESS_CONVERT_PARALLELISM", 1),
			WebPQuality:      envInt("IMAGEPRESS_WEBP_QUALITY", 0),
			JPEGQuality:      envInt("IMAGEPRESS_JPEG_QUALITY", 0),
			AVIFQuality:      envInt("IMAGEPRESS_AVIF_QUALITY", 0),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", max(1, runtime.NumCPU()/2)),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:   env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:  env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:  env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:     env("MINIO_BUCKET", "imagepress-batches"),
			UseSSL:     envBool("MINIO_USE_SSL", false),
			PresignTTL: envDuration("MINIO_PRESIGN_TTL", 15*time.Minute),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("IMAGEPRESS_RATELIMIT_ENABLED", false),
			Capacity: envInt("IMAGEPRESS_RATELIMIT_CAPACITY", 30),
			Window:   envDuration("IMAGEPRESS_RATELIMIT_WINDOW", time.Minute),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("IMAGEPRESS_WEBHOOK_SECRET", ""),
			MaxAttempts:   envInt("IMAGEPRESS_WEBHOOK_MAX_ATTEMPTS", 3),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("IMAGEPRESS_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("IMAGEPRESS_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("IMAGEPRESS_OTLP_INSECURE", false),
			SampleRatio:  envFloat("IMAGEPRESS_TRACE_SAMPLE", 1.0),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
