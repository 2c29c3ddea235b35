package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	StorageDriverFilesystem = "filesystem"
	StorageDriverS3         = "s3"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	StoreDriver string
	DatabaseURL string
	RedisURL    string

	StorageDriver  string
	StoragePath    string
	StorageBaseURL string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string

	PublicBaseURL string
	WebhookSecret string

	TextProvider string
	TextAPIKey   string
	TextBaseURL  string
	TextModel    string

	ClipProvider     string
	ClipConcurrency  int
	ClipPollInterval time.Duration
	ClipPollTimeout  time.Duration
	ClipAPIKey       string
	ClipBaseURL      string

	PipelineMaxResumes int
	PipelineLockWait   time.Duration

	WatchdogInterval      time.Duration
	WatchdogMaxPendingAge time.Duration
	WatchdogStallAfter    time.Duration
	WatchdogWorkers       int
	DispatchWorkers       int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFilesystem)),
		StoragePath:    getEnv("STORAGE_PATH", "./data/media"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),

		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		TextProvider: strings.ToLower(getEnv("TEXT_PROVIDER", "synthetic")),
		TextAPIKey:   os.Getenv("TEXT_API_KEY"),
		TextBaseURL:  getEnv("TEXT_BASE_URL", "https://api.openai.com/v1"),
		TextModel:    getEnv("TEXT_MODEL", "gpt-4o-mini"),

		ClipProvider:     strings.ToLower(getEnv("CLIP_PROVIDER", "synthetic-callback")),
		ClipConcurrency:  getEnvInt("CLIP_CONCURRENCY", 3),
		ClipPollInterval: getEnvDuration("CLIP_POLL_INTERVAL", 5*time.Second),
		ClipPollTimeout:  getEnvDuration("CLIP_POLL_TIMEOUT", 10*time.Minute),
		ClipAPIKey:       os.Getenv("CLIP_API_KEY"),
		ClipBaseURL:      os.Getenv("CLIP_BASE_URL"),

		PipelineMaxResumes: getEnvInt("PIPELINE_MAX_RESUMES", 5),
		PipelineLockWait:   getEnvDuration("PIPELINE_LOCK_WAIT", 10*time.Second),

		WatchdogInterval:      getEnvDuration("WATCHDOG_INTERVAL", time.Minute),
		WatchdogMaxPendingAge: getEnvDuration("WATCHDOG_MAX_PENDING_AGE", 30*time.Minute),
		WatchdogStallAfter:    getEnvDuration("WATCHDOG_STALL_AFTER", 2*time.Minute),
		WatchdogWorkers:       getEnvInt("WATCHDOG_WORKERS", 8),
		DispatchWorkers:       getEnvInt("DISPATCH_WORKERS", 16),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.StorageDriver {
	case StorageDriverFilesystem:
	case StorageDriverS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if _, err := url.Parse(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("invalid PUBLIC_BASE_URL: %w", err)
	}
	if cfg.ClipConcurrency < 0 {
		cfg.ClipConcurrency = 0
	}
	if cfg.PipelineMaxResumes < 1 {
		cfg.PipelineMaxResumes = 1
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "2m") or bare seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}
