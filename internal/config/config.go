package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/tune-ripper/pkg/icron"
	"github.com/MimeLyc/tune-ripper/pkg/log"
)

// Config holds all application configuration.
//
// Environment Variables:
// HTTP:
// - HTTP_ADDR: listen address (default: :5001)
// - UI_ENABLED: serve the static UI (default: true)
// - UI_STATIC_DIR: static UI directory (default: ./static)
//
// Conversion:
// - DOWNLOAD_DIR: where MP3 files are written (default: ./ripped_tunes)
// - MAX_CONCURRENCY: items converted at once across all jobs (default: 2)
// - YTDLP_PATH: yt-dlp binary (default: yt-dlp)
// - YTDLP_TIMEOUT: per-item timeout, Go duration or seconds (default: 300s)
//
// Storage:
// - STORE_DRIVER: memory, sqlite or redis (default: memory)
// - DATA_DIR: directory of the sqlite database (default: /app/data)
// - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB: redis connection
//
// Retention:
// - RETENTION_COMPLETE: how long complete jobs stay queryable (default: 600s)
// - RETENTION_ERROR: how long failed jobs stay queryable (default: 300s)
// - SWEEP_CRON: sweep schedule (default: @every 5m)
//
// Misc:
// - RATE_LIMIT_RPS, RATE_LIMIT_BURST: submission rate limit (default: 2, 5)
// - LOG_LEVEL: debug, info, warn or error (default: info)
// - LOG_FILE: also append log lines to this file (default: none)
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Download  DownloadConfig  `json:"download"`
	Store     StoreConfig     `json:"store"`
	Retention RetentionConfig `json:"retention"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	LogLevel  string          `json:"log_level"`
	LogFile   string          `json:"log_file"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIEnabled   bool   `json:"ui_enabled"`
	UIStaticDir string `json:"ui_static_dir"`
}

type DownloadConfig struct {
	Dir            string        `json:"dir"`
	MaxConcurrency int           `json:"max_concurrency"`
	YTDLPPath      string        `json:"ytdlp_path"`
	Timeout        time.Duration `json:"timeout"`
}

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"

	dbFileName = "ripper.db"
)

type StoreConfig struct {
	Driver        string `json:"driver"`
	DataDir       string `json:"data_dir"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redis_db"`
}

type RetentionConfig struct {
	Complete  time.Duration `json:"complete"`
	Error     time.Duration `json:"error"`
	SweepCron string        `json:"sweep_cron"`
}

type RateLimitConfig struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":5001"),
			UIEnabled:   getEnvBool("UI_ENABLED", true),
			UIStaticDir: getEnvString("UI_STATIC_DIR", "./static"),
		},
		Download: DownloadConfig{
			Dir:            getEnvString("DOWNLOAD_DIR", "./ripped_tunes"),
			MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 2),
			YTDLPPath:      getEnvString("YTDLP_PATH", "yt-dlp"),
			Timeout:        getEnvDuration("YTDLP_TIMEOUT", 300*time.Second),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(getEnvString("STORE_DRIVER", StoreMemory)),
			DataDir:       getEnvString("DATA_DIR", "/app/data"),
			RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
		},
		Retention: RetentionConfig{
			Complete:  getEnvDuration("RETENTION_COMPLETE", 600*time.Second),
			Error:     getEnvDuration("RETENTION_ERROR", 300*time.Second),
			SweepCron: getEnvString("SWEEP_CRON", "@every 5m"),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 2),
			Burst: getEnvInt("RATE_LIMIT_BURST", 5),
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogFile:  getEnvString("LOG_FILE", ""),
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	log.Debug("Config: %+v", *config)
	return config, nil
}

// DBPath is the sqlite database file under DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.Store.DataDir, dbFileName)
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Store.Driver == StoreRedis && strings.TrimSpace(c.Store.RedisAddr) == "" {
		return fmt.Errorf("REDIS_ADDR is required for the redis store")
	}
	if c.Download.MaxConcurrency <= 0 {
		return fmt.Errorf("MAX_CONCURRENCY must be positive")
	}
	if strings.TrimSpace(c.Download.Dir) == "" {
		return fmt.Errorf("DOWNLOAD_DIR is required")
	}
	if c.Download.Timeout <= 0 {
		return fmt.Errorf("YTDLP_TIMEOUT must be positive")
	}
	if c.Retention.Complete < 0 || c.Retention.Error < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	if err := icron.Validate(c.Retention.SweepCron); err != nil {
		return fmt.Errorf("invalid SWEEP_CRON: %w", err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts a Go duration ("90s", "5m") or plain seconds ("300").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
