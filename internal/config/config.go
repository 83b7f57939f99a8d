package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverBadger = "badger"
)

const (
	defaultListenAddr  = ":8080"
	defaultStoreDriver = DriverSQLite
	defaultDBPath      = "fusion.db"
	defaultRedisAddr   = "localhost:6379"
	defaultRedisPrefix = "fusion:"
	defaultBadgerDir   = "fusion-badger"
	defaultStepTimeout = 30 * time.Second

	envListenAddr    = "FUSION_LISTEN_ADDR"
	envLogLevel      = "FUSION_LOG_LEVEL"
	envStoreDriver   = "FUSION_STORE_DRIVER"
	envDBPath        = "FUSION_DB_PATH"
	envRedisAddr     = "FUSION_REDIS_ADDR"
	envRedisPrefix   = "FUSION_REDIS_PREFIX"
	envBadgerDir     = "FUSION_BADGER_DIR"
	envExecutorsFile = "FUSION_EXECUTORS_FILE"
	envStepTimeout   = "FUSION_STEP_TIMEOUT"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr    string
	LogLevel      slog.Level
	StoreDriver   string
	DBPath        string
	RedisAddr     string
	RedisPrefix   string
	BadgerDir     string
	ExecutorsFile string
	StepTimeout   time.Duration
}

// Load reads configuration from environment variables with sensible
// defaults. Invalid values fall back to the default.
func Load() Config {
	cfg := Config{
		ListenAddr:  defaultListenAddr,
		LogLevel:    slog.LevelInfo,
		StoreDriver: defaultStoreDriver,
		DBPath:      defaultDBPath,
		RedisAddr:   defaultRedisAddr,
		RedisPrefix: defaultRedisPrefix,
		BadgerDir:   defaultBadgerDir,
		StepTimeout: defaultStepTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envStoreDriver); v != "" {
		cfg.StoreDriver = parseDriver(v)
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv(envRedisPrefix); v != "" {
		cfg.RedisPrefix = v
	}
	if v := os.Getenv(envBadgerDir); v != "" {
		cfg.BadgerDir = v
	}
	if v := os.Getenv(envExecutorsFile); v != "" {
		cfg.ExecutorsFile = v
	}
	if v := os.Getenv(envStepTimeout); v != "" {
		cfg.StepTimeout = parseDuration(v, defaultStepTimeout)
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseDriver(s string) string {
	switch d := strings.ToLower(s); d {
	case DriverSQLite, DriverRedis, DriverBadger:
		return d
	default:
		return defaultStoreDriver
	}
}

// parseDuration accepts Go durations ("1m30s") or a bare number of seconds.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		if d > 0 {
			return d
		}
		return fallback
	}
	if d, err := time.ParseDuration(s + "s"); err == nil && d > 0 {
		return d
	}
	return fallback
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
