// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"notes-embedding-worker/internal/domain"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port           int    `yaml:"port"`
	APIKey         string `yaml:"api_key"`
	JWTSecret      string `yaml:"jwt_secret"`
	BulkLimit      int    `yaml:"bulk_limit"`          // bulk requests per window per caller
	BulkWindowMins int    `yaml:"bulk_window_minutes"` // rate limit window
}

func (a AdminConfig) BulkWindow() time.Duration {
	return time.Duration(a.BulkWindowMins) * time.Minute
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type AlertConfig struct {
	TelegramToken string  `yaml:"telegram_token"`
	ChatIDs       []int64 `yaml:"chat_ids"`
}

type EmbeddingConfig struct {
	Provider        string `yaml:"provider"` // openai | gemini | noop
	Model           string `yaml:"model"`
	Dimensions      int    `yaml:"dimensions"`
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	ConcurrentLimit int    `yaml:"concurrent_limit"`
	TimeoutMs       int    `yaml:"timeout_ms"`
}

func (c EmbeddingConfig) Timeout() time.Duration { return ms(c.TimeoutMs) }

type ChunkingConfig struct {
	MaxTokens     int    `yaml:"max_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens"`
	Encoding      string `yaml:"encoding"`
}

// QueueConfig holds the embedding queue and worker settings.
type QueueConfig struct {
	Enabled                 bool `yaml:"enabled"`
	WorkerIntervalMs        int  `yaml:"worker_interval_ms"`
	MaxRetries              int  `yaml:"max_retries"`
	RetryBackoffBaseMs      int  `yaml:"retry_backoff_base_ms"`
	BatchSize               int  `yaml:"batch_size"`
	CleanupIntervalHours    int  `yaml:"cleanup_interval_hours"`
	CleanupRetentionDays    int  `yaml:"cleanup_retention_days"`
	HeartbeatIntervalMs     int  `yaml:"heartbeat_interval_ms"`
	MetricsIntervalMs       int  `yaml:"metrics_interval_ms"`
	MaxProcessingTimeMs     int  `yaml:"max_processing_time_ms"`
	StuckTaskCleanupEnabled bool `yaml:"stuck_task_cleanup_enabled"`
	StuckTaskCheckMs        int  `yaml:"stuck_task_check_interval_ms"`
	RetryIntervalMs         int  `yaml:"retry_interval_ms"`
}

func (q QueueConfig) WorkerInterval() time.Duration    { return ms(q.WorkerIntervalMs) }
func (q QueueConfig) RetryBackoffBase() time.Duration  { return ms(q.RetryBackoffBaseMs) }
func (q QueueConfig) HeartbeatInterval() time.Duration { return ms(q.HeartbeatIntervalMs) }
func (q QueueConfig) MetricsInterval() time.Duration   { return ms(q.MetricsIntervalMs) }
func (q QueueConfig) MaxProcessingTime() time.Duration { return ms(q.MaxProcessingTimeMs) }
func (q QueueConfig) StuckTaskInterval() time.Duration { return ms(q.StuckTaskCheckMs) }
func (q QueueConfig) RetryInterval() time.Duration     { return ms(q.RetryIntervalMs) }
func (q QueueConfig) CleanupInterval() time.Duration {
	return time.Duration(q.CleanupIntervalHours) * time.Hour
}
func (q QueueConfig) CleanupRetention() time.Duration {
	return time.Duration(q.CleanupRetentionDays) * 24 * time.Hour
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Queue     QueueConfig     `yaml:"embedding_queue"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Defaults returns a Config with every optional value filled in.
func Defaults() Config {
	return Config{
		Log:      LogConfig{Level: "info", Format: "json"},
		Admin:    AdminConfig{Port: 8090, BulkLimit: 3, BulkWindowMins: 10},
		Database: DatabaseConfig{MaxConns: 10},
		NATS:     NATSConfig{SubjectPrefix: "embedding.task"},
		Embedding: EmbeddingConfig{
			Provider:        "openai",
			Model:           "text-embedding-3-small",
			Dimensions:      1536,
			ConcurrentLimit: 4,
			TimeoutMs:       30000,
		},
		Chunking: ChunkingConfig{MaxTokens: 400, OverlapTokens: 60, Encoding: "cl100k_base"},
		Queue: QueueConfig{
			Enabled:                 true,
			WorkerIntervalMs:        5000,
			MaxRetries:              3,
			RetryBackoffBaseMs:      30000,
			BatchSize:               50,
			CleanupIntervalHours:    24,
			CleanupRetentionDays:    7,
			HeartbeatIntervalMs:     30000,
			MetricsIntervalMs:       60000,
			MaxProcessingTimeMs:     300000,
			StuckTaskCleanupEnabled: true,
			StuckTaskCheckMs:        60000,
			RetryIntervalMs:         60000,
		},
	}
}

// LoadConfig builds the immutable configuration: defaults, then the YAML file
// (if path is non-empty), then .env and process environment. The result is
// validated; any invalid value is returned as an error.
func LoadConfig(path string, dev bool) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.Runtime.Dev = dev
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects out-of-range settings instead of silently falling back.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidConfig}, args...)...))
	}

	q := c.Queue
	if q.WorkerIntervalMs < 1000 {
		bad("embedding_queue.worker_interval_ms must be >= 1000, got %d", q.WorkerIntervalMs)
	}
	if q.MaxRetries < 1 || q.MaxRetries > 10 {
		bad("embedding_queue.max_retries must be within 1..10, got %d", q.MaxRetries)
	}
	if q.RetryBackoffBaseMs < 100 {
		bad("embedding_queue.retry_backoff_base_ms must be >= 100, got %d", q.RetryBackoffBaseMs)
	}
	if q.BatchSize < 1 || q.BatchSize > 1000 {
		bad("embedding_queue.batch_size must be within 1..1000, got %d", q.BatchSize)
	}
	if q.CleanupIntervalHours < 1 {
		bad("embedding_queue.cleanup_interval_hours must be >= 1, got %d", q.CleanupIntervalHours)
	}
	if q.CleanupRetentionDays < 1 {
		bad("embedding_queue.cleanup_retention_days must be >= 1, got %d", q.CleanupRetentionDays)
	}
	if q.HeartbeatIntervalMs < 1000 {
		bad("embedding_queue.heartbeat_interval_ms must be >= 1000, got %d", q.HeartbeatIntervalMs)
	}
	if q.MetricsIntervalMs < 1000 {
		bad("embedding_queue.metrics_interval_ms must be >= 1000, got %d", q.MetricsIntervalMs)
	}
	if q.MaxProcessingTimeMs < 10000 || q.MaxProcessingTimeMs < q.WorkerIntervalMs {
		bad("embedding_queue.max_processing_time_ms must be >= 10000 and >= worker interval, got %d", q.MaxProcessingTimeMs)
	}
	if q.StuckTaskCheckMs < 1000 {
		bad("embedding_queue.stuck_task_check_interval_ms must be >= 1000, got %d", q.StuckTaskCheckMs)
	}
	if q.RetryIntervalMs < 1000 {
		bad("embedding_queue.retry_interval_ms must be >= 1000, got %d", q.RetryIntervalMs)
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case "openai":
		if c.Embedding.OpenAIKey == "" {
			bad("embedding.openai_key is required for provider openai")
		}
	case "gemini":
		if c.Embedding.GeminiKey == "" {
			bad("embedding.gemini_key is required for provider gemini")
		}
	case "noop":
	default:
		bad("embedding.provider must be openai, gemini or noop, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		bad("embedding.dimensions must be > 0, got %d", c.Embedding.Dimensions)
	}
	if c.Chunking.MaxTokens < 32 {
		bad("chunking.max_tokens must be >= 32, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		bad("chunking.overlap_tokens must be within 0..max_tokens-1, got %d", c.Chunking.OverlapTokens)
	}
	if c.Database.URL == "" {
		bad("database.url is required")
	}
	if c.Admin.BulkLimit < 1 || c.Admin.BulkWindowMins < 1 {
		bad("admin.bulk_limit and admin.bulk_window_minutes must be >= 1")
	}
	if len(c.Alerts.ChatIDs) > 0 && c.Alerts.TelegramToken == "" {
		bad("alerts.telegram_token is required when alerts.chat_ids is set")
	}

	return errors.Join(errs...)
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q is not an integer", domain.ErrInvalidConfig, key, v))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q is not a boolean", domain.ErrInvalidConfig, key, v))
			return
		}
		*dst = b
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("NATS_URL", &cfg.NATS.URL)
	str("ADMIN_API_KEY", &cfg.Admin.APIKey)
	str("ADMIN_JWT_SECRET", &cfg.Admin.JWTSecret)
	num("ADMIN_PORT", &cfg.Admin.Port)
	str("TELEGRAM_ALERT_TOKEN", &cfg.Alerts.TelegramToken)

	str("EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	str("EMBEDDING_MODEL", &cfg.Embedding.Model)
	num("EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)
	str("OPENAI_API_KEY", &cfg.Embedding.OpenAIKey)
	str("OPENAI_BASE_URL", &cfg.Embedding.OpenAIBaseURL)
	str("GEMINI_API_KEY", &cfg.Embedding.GeminiKey)

	q := &cfg.Queue
	flag("EMBEDDING_QUEUE_ENABLED", &q.Enabled)
	num("EMBEDDING_WORKER_INTERVAL", &q.WorkerIntervalMs)
	num("EMBEDDING_MAX_RETRIES", &q.MaxRetries)
	num("EMBEDDING_RETRY_BACKOFF_BASE", &q.RetryBackoffBaseMs)
	num("EMBEDDING_BATCH_SIZE", &q.BatchSize)
	num("EMBEDDING_CLEANUP_INTERVAL", &q.CleanupIntervalHours)
	num("EMBEDDING_CLEANUP_RETENTION_DAYS", &q.CleanupRetentionDays)
	num("EMBEDDING_HEARTBEAT_INTERVAL", &q.HeartbeatIntervalMs)
	num("EMBEDDING_METRICS_INTERVAL", &q.MetricsIntervalMs)
	num("EMBEDDING_MAX_PROCESSING_TIME", &q.MaxProcessingTimeMs)
	flag("EMBEDDING_STUCK_TASK_CLEANUP_ENABLED", &q.StuckTaskCleanupEnabled)
	num("EMBEDDING_STUCK_TASK_CHECK_INTERVAL", &q.StuckTaskCheckMs)
	num("EMBEDDING_RETRY_INTERVAL", &q.RetryIntervalMs)

	return errors.Join(errs...)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
