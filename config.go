package main

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// config is read from the environment (after .env is loaded).
type config struct {
	Port          string
	LogLevel      string
	DatabasePath  string
	MigrationsDir string
	ImagesDir     string // empty = embedded default images
	NATSURL       string // empty = events stay in-process
	MismatchDelay time.Duration
	TickInterval  time.Duration
}

func loadConfig() config {
	return config{
		Port:          getEnv("PORT", "5175"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabasePath:  getEnv("DATABASE_PATH", "./data/memory.db"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "sql"),
		ImagesDir:     os.Getenv("IMAGES_DIR"),
		NATSURL:       os.Getenv("NATS_URL"),
		MismatchDelay: getDuration("MISMATCH_DELAY", 800*time.Millisecond),
		TickInterval:  getDuration("TICK_INTERVAL", time.Second),
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getDuration parses k with time.ParseDuration; bad or non-positive values fall back to def.
func getDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("key", k).Str("value", v).Msg("invalid duration, using default")
		return def
	}
	return d
}
