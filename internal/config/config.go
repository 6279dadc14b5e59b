// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Grading configures the external grading service boundary.
type Grading struct {
	// Mode selects the backend: "local" (Ollama) or "remote"
	// (OpenAI-compatible API).
	Mode        string
	LocalURL    string
	RemoteURL   string
	APIKey      string
	Model       string
	Temperature float64
	// EnableFallback allows the degraded heuristic evaluator to stand in
	// after the retry budget is spent on an unreachable model.
	EnableFallback bool
}

type Config struct {
	HTTPAddr string
	// DBPath is the DuckDB file. Empty selects the in-memory store.
	DBPath string

	Grading Grading

	// Pipeline knobs.
	PoolSize          int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	AttemptTimeout    time.Duration
	MaxConcurrentJobs int64
	JobRetention      time.Duration
}

// Load reads configuration from AULA_* environment variables, with defaults
// suitable for local development.
func Load() Config {
	return Config{
		HTTPAddr: getEnv("AULA_HTTP_ADDR", ":8080"),
		DBPath:   getEnv("AULA_DB_PATH", ""),
		Grading: Grading{
			Mode:           getEnv("AULA_GRADER_MODE", "local"),
			LocalURL:       getEnv("AULA_OLLAMA_URL", "http://localhost:11434"),
			RemoteURL:      getEnv("AULA_GRADER_URL", ""),
			APIKey:         getEnv("AULA_GRADER_API_KEY", ""),
			Model:          getEnv("AULA_GRADER_MODEL", ""),
			Temperature:    getEnvFloat("AULA_GRADER_TEMPERATURE", 0.2),
			EnableFallback: getEnvBool("AULA_GRADER_FALLBACK", true),
		},
		PoolSize:          getEnvInt("AULA_POOL_SIZE", 2),
		MaxRetries:        getEnvInt("AULA_MAX_RETRIES", 3),
		RetryBaseDelay:    getEnvDuration("AULA_RETRY_BASE_DELAY", 2*time.Second),
		AttemptTimeout:    getEnvDuration("AULA_ATTEMPT_TIMEOUT", 120*time.Second),
		MaxConcurrentJobs: int64(getEnvInt("AULA_MAX_CONCURRENT_JOBS", 10)),
		JobRetention:      getEnvDuration("AULA_JOB_RETENTION", 24*time.Hour),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
