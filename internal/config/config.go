package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port   string
	AppEnv string

	CORSOrigins []string

	// CookieSecure is disabled only for plain-HTTP development.
	CookieSecure bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string
	// JobRecordTTLHours bounds job metadata retention in Redis.
	JobRecordTTLHours int

	DatabaseURL string

	RateLimitPerMinute int

	SynthBaseURL       string
	SynthAPIToken      string
	SynthTimeoutSec    int
	SynthMaxRetries    int
	WorkerScratchDir   string
	WorkerEnabled      bool
	PresignTTLMinutes  int

	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageRegion    string
	StorageUseSSL    bool
}

func Load() Config {
	return Config{
		Port:   getEnv("PORT", "8080"),
		AppEnv: getEnv("APP_ENV", "development"),

		CORSOrigins:  splitList(getEnv("FRONTEND_URL", "http://localhost:3000")),
		CookieSecure: getEnvBool("COOKIE_SECURE", true),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisStream:       getEnv("REDIS_STREAM", "musicgen_jobs"),
		RedisDLQ:          getEnv("REDIS_DLQ_STREAM", "musicgen_jobs_dlq"),
		RedisGroup:        getEnv("REDIS_GROUP", "musicgen_workers"),
		RedisConsumer:     getEnv("REDIS_CONSUMER", "worker-1"),
		JobRecordTTLHours: getEnvInt("JOB_RECORD_TTL_HOURS", 168),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 5),

		SynthBaseURL:      getEnv("SYNTH_BASE_URL", ""),
		SynthAPIToken:     getEnv("SYNTH_API_TOKEN", ""),
		SynthTimeoutSec:   getEnvInt("SYNTH_TIMEOUT_SEC", 600),
		SynthMaxRetries:   getEnvInt("SYNTH_MAX_RETRIES", 1),
		WorkerScratchDir:  getEnv("WORKER_SCRATCH_DIR", "/tmp/musicgen_audio"),
		WorkerEnabled:     getEnvBool("WORKER_ENABLED", true),
		PresignTTLMinutes: getEnvInt("PRESIGN_TTL_MINUTES", 60),

		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", ""),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("STORAGE_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnv("STORAGE_BUCKET_NAME", ""),
		StorageRegion:    getEnv("STORAGE_REGION", ""),
		StorageUseSSL:    getEnvBool("STORAGE_USE_SSL", true),
	}
}

// StorageConfigured reports whether the durable object store can be used.
func (c Config) StorageConfigured() bool {
	return c.StorageEndpoint != "" && c.StorageAccessKey != "" && c.StorageBucket != ""
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

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
