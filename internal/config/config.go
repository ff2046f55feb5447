// internal/config/config.go
package config

import (
	"os"
	"strconv"
)

// Config holds the environment-driven service settings. Everything has
// a workable default so the service boots with an empty environment.
type Config struct {
	// ServicePort is the TCP port the HTTP/WS listener binds.
	ServicePort string
	// RedisAddr enables the event journal when non-empty.
	RedisAddr string
	// RedisDB selects the Redis logical database for the journal.
	RedisDB int
	// JournalQueue is the Redis list the journal pushes events onto.
	JournalQueue string
	// LogLevel is a logrus level name (debug, info, warn, ...).
	LogLevel string
}

// Load reads the service configuration from the environment.
func Load() Config {
	return Config{
		ServicePort:  getEnv("PURRLOBBY_SERVICE_PORT", "8080"),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		JournalQueue: getEnv("JOURNAL_QUEUE_NAME", "purrlobby_events"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
