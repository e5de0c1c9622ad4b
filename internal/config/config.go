// Package config provides configuration management for the touchless directory pipeline.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Crawl      CrawlConfig
	Classifier ClassifierConfig
	Pipeline   PipelineConfig
	Watchdog   WatchdogConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
	// PublicURL is the base URL the server uses to call itself for self-continuation
	PublicURL string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CrawlConfig holds crawl provider configuration
type CrawlConfig struct {
	APIKey         string
	BaseURL        string
	PageSize       int           // results fetched per poll call
	MaxConcurrency int           // provider-side concurrency for a batch
	PageTimeout    time.Duration // per-page scrape timeout
	Country        string
	Languages      []string
	Formats        []string
	Retention      time.Duration // how long the provider keeps job results
	RequestTimeout time.Duration
}

// ClassifierConfig holds AI classifier configuration
type ClassifierConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	MaxChars  int // page text is truncated to this many characters
	Timeout   time.Duration
	RPS       float64
}

// PipelineConfig holds batch pipeline configuration
type PipelineConfig struct {
	ChunkSize           int
	StorePageSize       int // the store caps single-query row counts at this value
	MinContentLength    int
	ClassifyConcurrency int
	AutoContinue        bool
	ContinueDelay       time.Duration
	PollLockTTL         time.Duration
	WorkerInterval      time.Duration
	AIPhotoSelection    bool // ask the classifier to pick photos instead of the positional fallback
	JobUnitBatchSize    int  // units claimed per background job process call
}

// WatchdogConfig holds stalled-work detection configuration
type WatchdogConfig struct {
	Interval       time.Duration
	StallThreshold time.Duration
	MaxAttempts    int
	KickCount      int
	KickJitter     time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	File   string // optional; rotated with lumberjack when set
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:      getEnv("SERVER_PORT", "8080"),
			Host:      getEnv("SERVER_HOST", "0.0.0.0"),
			PublicURL: getEnv("SERVER_PUBLIC_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "touchless_directory"),
				User:           getEnv("POSTGRES_USER", "directory"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Crawl: CrawlConfig{
			APIKey:         getEnv("CRAWL_API_KEY", ""),
			BaseURL:        getEnv("CRAWL_BASE_URL", "https://api.firecrawl.dev"),
			PageSize:       getEnvAsInt("CRAWL_PAGE_SIZE", 10),
			MaxConcurrency: getEnvAsInt("CRAWL_MAX_CONCURRENCY", 10),
			PageTimeout:    getEnvAsDuration("CRAWL_PAGE_TIMEOUT", 30*time.Second),
			Country:        getEnv("CRAWL_COUNTRY", "US"),
			Languages:      getEnvAsList("CRAWL_LANGUAGES", []string{"en-US"}),
			Formats:        getEnvAsList("CRAWL_FORMATS", []string{"markdown", "images", "html"}),
			Retention:      getEnvAsDuration("CRAWL_RETENTION", 24*time.Hour),
			RequestTimeout: getEnvAsDuration("CRAWL_REQUEST_TIMEOUT", 30*time.Second),
		},
		Classifier: ClassifierConfig{
			APIKey:    getEnv("CLASSIFIER_API_KEY", ""),
			BaseURL:   getEnv("CLASSIFIER_BASE_URL", "https://api.anthropic.com"),
			Model:     getEnv("CLASSIFIER_MODEL", "claude-3-5-haiku-latest"),
			MaxTokens: getEnvAsInt("CLASSIFIER_MAX_TOKENS", 512),
			MaxChars:  getEnvAsInt("CLASSIFIER_MAX_CHARS", 12000),
			Timeout:   getEnvAsDuration("CLASSIFIER_TIMEOUT", 45*time.Second),
			RPS:       getEnvAsFloat("CLASSIFIER_RPS", 5),
		},
		Pipeline: PipelineConfig{
			ChunkSize:           getEnvAsInt("PIPELINE_CHUNK_SIZE", 500),
			StorePageSize:       getEnvAsInt("PIPELINE_STORE_PAGE_SIZE", 1000),
			MinContentLength:    getEnvAsInt("PIPELINE_MIN_CONTENT_LENGTH", 100),
			ClassifyConcurrency: getEnvAsInt("PIPELINE_CLASSIFY_CONCURRENCY", 5),
			AutoContinue:        getEnvAsBool("PIPELINE_AUTO_CONTINUE", false),
			ContinueDelay:       getEnvAsDuration("PIPELINE_CONTINUE_DELAY", 2*time.Second),
			PollLockTTL:         getEnvAsDuration("PIPELINE_POLL_LOCK_TTL", 5*time.Minute),
			WorkerInterval:      getEnvAsDuration("PIPELINE_WORKER_INTERVAL", 30*time.Second),
			AIPhotoSelection:    getEnvAsBool("PIPELINE_AI_PHOTO_SELECTION", false),
			JobUnitBatchSize:    getEnvAsInt("PIPELINE_JOB_UNIT_BATCH_SIZE", 25),
		},
		Watchdog: WatchdogConfig{
			Interval:       getEnvAsDuration("WATCHDOG_INTERVAL", 5*time.Minute),
			StallThreshold: getEnvAsDuration("WATCHDOG_STALL_THRESHOLD", 10*time.Minute),
			MaxAttempts:    getEnvAsInt("WATCHDOG_MAX_ATTEMPTS", 3),
			KickCount:      getEnvAsInt("WATCHDOG_KICK_COUNT", 3),
			KickJitter:     getEnvAsDuration("WATCHDOG_KICK_JITTER", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would make the pipeline misbehave
func (c *Config) Validate() error {
	if c.Crawl.PageSize <= 0 {
		return fmt.Errorf("CRAWL_PAGE_SIZE must be positive, got %d", c.Crawl.PageSize)
	}
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("PIPELINE_CHUNK_SIZE must be positive, got %d", c.Pipeline.ChunkSize)
	}
	if c.Pipeline.StorePageSize <= 0 {
		return fmt.Errorf("PIPELINE_STORE_PAGE_SIZE must be positive, got %d", c.Pipeline.StorePageSize)
	}
	if c.Watchdog.MaxAttempts < 1 {
		return fmt.Errorf("WATCHDOG_MAX_ATTEMPTS must be at least 1, got %d", c.Watchdog.MaxAttempts)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated variable, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
