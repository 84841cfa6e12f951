// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration, read once at startup and passed
// by reference to each subsystem.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Storage
	StorageRoot string

	// Admin credentials. If AdminPasswordHash is set it takes precedence
	// over AdminPassword and must be a bcrypt hash.
	AdminUser         string
	AdminPassword     string
	AdminPasswordHash string

	// Sessions
	SessionSecret string
	SessionTTL    time.Duration
	CookieSecure  bool

	// Uploads
	MaxUploadSize int64

	// TLS (optional — if both set, server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		ListenAddr:        envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		StorageRoot:       envOr("STORAGE_ROOT", "uploads"),
		AdminUser:         envOr("ADMIN_USER", "admin"),
		AdminPassword:     envOr("ADMIN_PASS", "admin"),
		AdminPasswordHash: envOr("ADMIN_PASS_HASH", ""),
		SessionSecret:     envOr("SESSION_SECRET", ""),
		SessionTTL:        envDuration("SESSION_TTL", 7*24*time.Hour),
		CookieSecure:      envBool("COOKIE_SECURE", false),
		MaxUploadSize:     envInt64("MAX_UPLOAD_SIZE", 100*1024*1024), // 100MB default
		TLSCertFile:       envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:        envOr("TLS_KEY_FILE", ""),
	}

	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if cfg.StorageRoot == "" {
		return nil, fmt.Errorf("STORAGE_ROOT is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
