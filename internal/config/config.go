package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Cliniko practice-management API
	ClinikoAPIKey            string
	ClinikoBaseURL           string
	ClinikoBusinessID        string
	ClinikoPractitionerID    string
	ClinikoAppointmentTypeID string
	ClinikoRateLimitPerSec   float64

	// Clinic identity
	ClinicTimezone string
	ClinicName     string

	// Telnyx voice + SMS
	TelnyxAPIKey        string
	TelnyxWebhookSecret string
	TelnyxFromNumber    string

	// Gemini turn interpreter
	GeminiAPIKey string
	GeminiModel  string

	// Booking retry policy
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Availability cache
	AvailabilityCacheTTL    time.Duration
	AvailabilityConcurrency int

	// Identity matching calibration
	NameSimilarityThreshold float64
	NameTypoDistance        int

	// Call lifecycle
	CallInactivityTimeout time.Duration
	MaxEmptySpeechTurns   int

	// Notification outbox
	UseMemoryQueue      bool
	NotifyQueueURL      string
	NotifyWorkerCount   int
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ClinikoAPIKey:            getEnv("CLINIKO_API_KEY", ""),
		ClinikoBaseURL:           getEnv("CLINIKO_BASE_URL", ""),
		ClinikoBusinessID:        getEnv("CLINIKO_BUSINESS_ID", ""),
		ClinikoPractitionerID:    getEnv("CLINIKO_PRACTITIONER_ID", ""),
		ClinikoAppointmentTypeID: getEnv("CLINIKO_APPOINTMENT_TYPE_ID", ""),
		ClinikoRateLimitPerSec:   getEnvAsFloat("CLINIKO_RATE_LIMIT_PER_SEC", 3),

		ClinicTimezone: getEnv("CLINIC_TIMEZONE", "Australia/Sydney"),
		ClinicName:     getEnv("CLINIC_NAME", "the clinic"),

		TelnyxAPIKey:        getEnv("TELNYX_API_KEY", ""),
		TelnyxWebhookSecret: getEnv("TELNYX_WEBHOOK_SECRET", ""),
		TelnyxFromNumber:    getEnv("TELNYX_FROM_NUMBER", ""),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		// MaxAttempts counts total tries, so 4 means 3 retries.
		RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getEnvAsDuration("RETRY_MAX_DELAY", 10*time.Second),

		AvailabilityCacheTTL:    getEnvAsDuration("AVAILABILITY_CACHE_TTL", 20*time.Second),
		AvailabilityConcurrency: getEnvAsInt("AVAILABILITY_CONCURRENCY", 3),

		NameSimilarityThreshold: getEnvAsFloat("NAME_SIMILARITY_THRESHOLD", 0.55),
		NameTypoDistance:        getEnvAsInt("NAME_TYPO_DISTANCE", 2),

		CallInactivityTimeout: getEnvAsDuration("CALL_INACTIVITY_TIMEOUT", 10*time.Minute),
		MaxEmptySpeechTurns:   getEnvAsInt("MAX_EMPTY_SPEECH_TURNS", 2),

		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),
		NotifyQueueURL:      getEnv("NOTIFY_QUEUE_URL", ""),
		NotifyWorkerCount:   getEnvAsInt("NOTIFY_WORKER_COUNT", 2),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
