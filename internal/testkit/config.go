// Package testkit provides test infrastructure for integration tests using testcontainers.
package testkit

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds environment-driven configuration for integration test infrastructure.
type Config struct {
	PGImage        string
	RedisImage     string
	PGDSN          string        // If set, skip Postgres container.
	RedisAddr      string        // If set, skip Redis container.
	StartupTimeout time.Duration // Max time to wait for containers to become ready.
	KeepContainers bool          // If true, do not terminate containers on shutdown.
}

// LoadConfig reads test infrastructure settings from RATESVC_TEST_* environment variables.
func LoadConfig() Config {
	return Config{
		PGImage:        envOrDefault("RATESVC_TEST_PG_IMAGE", "postgres:18.1-alpine"),
		RedisImage:     envOrDefault("RATESVC_TEST_REDIS_IMAGE", "redis:8.4.0-alpine"),
		PGDSN:          os.Getenv("RATESVC_TEST_PG_DSN"),
		RedisAddr:      os.Getenv("RATESVC_TEST_REDIS_ADDR"),
		StartupTimeout: envDurationOrDefault("RATESVC_TEST_STARTUP_TIMEOUT", 90*time.Second),
		KeepContainers: envBoolOrDefault("RATESVC_TEST_KEEP_CONTAINERS", false),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDurationOrDefault accepts a Go duration ("45s") or plain seconds ("45").
func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	fmt.Fprintf(os.Stderr, "testkit: invalid value %q for %s (expected duration or seconds), using default %v\n", v, key, def)
	return def
}

func envBoolOrDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testkit: invalid value %q for %s (expected bool), using default %v\n", v, key, def)
		return def
	}
	return b
}
