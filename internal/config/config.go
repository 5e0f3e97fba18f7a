// Package config provides configuration for the test management service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int
	RPCAddr  string

	// Database
	DatabaseURL string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Execution pipeline
	Workers           int
	QueueSize         int
	ExecRetryAttempts int
	ExecRetryBase     time.Duration

	ShutdownTimeout time.Duration

	// Optional YAML file seeding suites and cases at startup.
	CatalogPath string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		RPCAddr:           getEnv("RPC_ADDR", ":8091"),
		DatabaseURL:       getEnv("DATABASE_URL", "file:testmgmt.db?cache=shared&mode=rwc"),
		JWTSecret:         getEnv("JWT_SECRET", "change-me"),
		TokenTTL:          time.Duration(getEnvInt("TOKEN_TTL_MINUTES", 30)) * time.Minute,
		Workers:           getEnvInt("WORKERS", 4),
		QueueSize:         getEnvInt("QUEUE_SIZE", 256),
		ExecRetryAttempts: getEnvInt("EXEC_RETRY_ATTEMPTS", 3),
		ExecRetryBase:     time.Duration(getEnvInt("EXEC_RETRY_BASE_MS", 200)) * time.Millisecond,
		ShutdownTimeout:   time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_MS", 10000)) * time.Millisecond,
		CatalogPath:       getEnv("CATALOG_PATH", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
