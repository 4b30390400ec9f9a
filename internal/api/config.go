package api

import (
	"os"
	"time"
)

// Config holds server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	ServerDBPath    string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// LoadConfig reads configuration from the environment with sane defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		ServerDBPath:    "goaldy-server.db",
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 10 * time.Second,
	}
	if v := os.Getenv("GOALDY_SERVER_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GOALDY_SERVER_DB"); v != "" {
		cfg.ServerDBPath = v
	}
	if v := os.Getenv("GOALDY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GOALDY_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("GOALDY_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	return cfg
}
