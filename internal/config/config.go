// Package config provides application configuration loaded from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	App    AppConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string
	AllowedOrigins string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	Debug       bool
	// LockTimeout bounds waits on database locks held by other processes.
	LockTimeout time.Duration
}

// AppConfig holds application-level settings.
type AppConfig struct {
	LockTimeout  time.Duration
	DefaultActor string
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() *Config {
	lockTimeout := getEnvDuration("LOCK_TIMEOUT", 5*time.Second)
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Driver:      getEnv("STORE_DRIVER", DriverMemory),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			SQLitePath:  getEnv("SQLITE_PATH", "procurement.db"),
			Debug:       getEnvBool("DB_DEBUG", false),
			LockTimeout: lockTimeout,
		},
		App: AppConfig{
			LockTimeout:  lockTimeout,
			DefaultActor: getEnv("DEFAULT_ACTOR", "system"),
		},
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable not set (required by STORE_DRIVER=%s)", DriverPostgres)
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is empty")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want memory, postgres or sqlite)", c.Store.Driver)
	}
	if c.App.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.App.LockTimeout)
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration parses a Go duration ("5s", "250ms"); bare integers are seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if i, err := strconv.Atoi(value); err == nil {
		return time.Duration(i) * time.Second
	}
	return defaultValue
}

// getEnvBool accepts "1", "true", "yes" as true; everything else is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}
