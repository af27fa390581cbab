package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"positionLedger/internal/adapters/logger" // Import the logger package for LogLevel
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// HTTP
	HTTPAddr        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// Event store
	StoreDriver string // "sqlite" or "postgres"
	DBPath      string // SQLite file
	DatabaseDSN string // PostgreSQL connection string

	// Concurrency
	LockTimeout time.Duration

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // "json" or "console"

	// Metrics
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// HTTP
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	requestTimeoutSeconds, err := getEnvAsIntRequired("REQUEST_TIMEOUT_SECONDS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REQUEST_TIMEOUT_SECONDS: %v", err))
	} else if requestTimeoutSeconds <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT_SECONDS must be positive")
	}
	cfg.RequestTimeout = time.Duration(requestTimeoutSeconds) * time.Second

	shutdownTimeoutSeconds, err := getEnvAsIntRequired("SHUTDOWN_TIMEOUT_SECONDS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SHUTDOWN_TIMEOUT_SECONDS: %v", err))
	} else if shutdownTimeoutSeconds <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT_SECONDS must be positive")
	}
	cfg.ShutdownTimeout = time.Duration(shutdownTimeoutSeconds) * time.Second

	// Event store
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite))
	cfg.DBPath = getEnv("DB_PATH", "./data/positions.db")
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "")
	switch cfg.StoreDriver {
	case DriverSQLite:
		if cfg.DBPath == "" {
			errs = append(errs, "DB_PATH must be set")
		}
	case DriverPostgres:
		if cfg.DatabaseDSN == "" {
			errs = append(errs, "DATABASE_DSN must be set when STORE_DRIVER=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.StoreDriver))
	}

	// Concurrency
	lockTimeoutMs, err := getEnvAsIntRequired("LOCK_TIMEOUT_MS", 2000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LOCK_TIMEOUT_MS: %v", err))
	} else if lockTimeoutMs <= 0 {
		errs = append(errs, "LOCK_TIMEOUT_MS must be positive")
	}
	cfg.LockTimeout = time.Duration(lockTimeoutMs) * time.Millisecond

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "json"))
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs = append(errs, "LOG_FORMAT must be json or console")
	}

	// Metrics
	cfg.MetricsEnabled = getEnvAsBool("METRICS_ENABLED", true)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
