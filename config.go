package main

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the service reads from its environment. It is built
// once in main and passed to the components that need it; core logic never
// reads the environment directly.
type Config struct {
	ListenAddr  string
	DatabaseDSN string
	AutoMigrate bool

	// WorkerURL is the extraction worker's submission endpoint.
	// CallbackSecret authenticates the worker's asynchronous callback.
	WorkerURL      string
	CallbackSecret string

	MaxUploadBytes int64
	// PDFValidation is "strict", "relaxed" or "none".
	PDFValidation string

	// WatchDir, when set, enables drop-folder ingestion of PDFs.
	WatchDir      string
	WatchDebounce time.Duration

	// ReaperSchedule is a cron expression; empty disables the stale-PROCESSING
	// sweep entirely.
	ReaperSchedule string
	ReaperMaxAge   time.Duration
}

// LoadConfig reads the configuration from the environment, loading ./.env
// first when present (existing variables win).
func LoadConfig() Config {
	_ = godotenv.Load()
	return Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8081"),
		DatabaseDSN:    os.Getenv("DB_DSN"),
		AutoMigrate:    getEnvAsBool("DB_AUTO_MIGRATE", true),
		WorkerURL:      os.Getenv("WORKER_URL"),
		CallbackSecret: os.Getenv("CALLBACK_SECRET"),
		MaxUploadBytes: getEnvAsInt64("MAX_UPLOAD_BYTES", 20<<20),
		PDFValidation:  getEnv("PDF_VALIDATION", "relaxed"),
		WatchDir:       os.Getenv("WATCH_DIR"),
		WatchDebounce:  getEnvAsDuration("WATCH_DEBOUNCE", 500*time.Millisecond),
		ReaperSchedule: os.Getenv("REAPER_SCHEDULE"),
		ReaperMaxAge:   getEnvAsDuration("REAPER_MAX_AGE", 24*time.Hour),
	}
}

// Validate checks the settings the service cannot run without.
func (c Config) Validate() error {
	if c.DatabaseDSN == "" {
		return errors.New("DB_DSN is not set; a Postgres DSN is required")
	}
	if c.WorkerURL == "" {
		return errors.New("WORKER_URL is not set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
