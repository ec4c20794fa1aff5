package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API, workers and reconciler.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	InferenceAPIKey     string
	InferenceBaseURL    string
	InferenceTimeoutMS  int
	InferenceMaxRetries int

	ContextWindowTokens int
	SystemPromptTokens  int
	DefaultBatchSize    int

	MatchCacheTTLSeconds int
	MatchCacheMaxEntries int

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisStream      string
	RedisDLQ         string
	RedisGroup       string
	RedisConsumer    string
	RedisMaxAttempts int

	RateLimitRPS   float64
	RateLimitBurst int

	CORSAllowedOrigins []string

	WorkerEnabled bool
	RunPoolSize   int

	StaleJobAfterSeconds     int
	ReconcileIntervalSeconds int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		InferenceAPIKey:     getEnv("INFERENCE_API_KEY", ""),
		InferenceBaseURL:    getEnv("INFERENCE_BASE_URL", "http://localhost:9090"),
		InferenceTimeoutMS:  getEnvInt("INFERENCE_TIMEOUT_MS", 120000),
		InferenceMaxRetries: getEnvInt("INFERENCE_MAX_RETRIES", 2),

		ContextWindowTokens: getEnvInt("CONTEXT_WINDOW_TOKENS", 128000),
		SystemPromptTokens:  getEnvInt("SYSTEM_PROMPT_TOKENS", 1500),
		DefaultBatchSize:    getEnvInt("BATCH_SIZE_DEFAULT", 10),

		MatchCacheTTLSeconds: getEnvInt("MATCH_CACHE_TTL_SECONDS", 900),
		MatchCacheMaxEntries: getEnvInt("MATCH_CACHE_MAX_ENTRIES", 2000),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisStream:      getEnv("REDIS_STREAM", "qa_runs"),
		RedisDLQ:         getEnv("REDIS_DLQ_STREAM", "qa_runs_dlq"),
		RedisGroup:       getEnv("REDIS_GROUP", "qa_workers"),
		RedisConsumer:    getEnv("REDIS_CONSUMER", "api-1"),
		RedisMaxAttempts: getEnvInt("REDIS_MAX_ATTEMPTS", 3),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
		RunPoolSize:   getEnvInt("RUN_POOL_SIZE", 8),

		StaleJobAfterSeconds:     getEnvInt("STALE_JOB_AFTER_SECONDS", 900),
		ReconcileIntervalSeconds: getEnvInt("RECONCILE_INTERVAL_SECONDS", 60),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			list = append(list, trimmed)
		}
	}
	if len(list) == 0 {
		return fallback
	}
	return list
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
