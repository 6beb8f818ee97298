// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	MongoURI string

	OpenAIAPIKey string
	OpenAIModel  string

	MTAAPIKey              string
	MTABaseURL             string
	MTAFromNumber          string
	MTALongcodeID          string
	MTAAutoReplyTemplateID int
	MTAWebhookSecret       string
	MTAAlertEmail          string
	MTARetryMaxAttempts    int
	MTARetryBaseDelay      time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	UseMemoryQueue       bool
	WorkerCount          int
	ConversationQueueURL string
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string

	ReplyDelay       time.Duration
	ScheduleTimezone string

	CORSAllowedOrigins string
	WebhookRateLimit   float64
	WebhookBurst       int
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "5001"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		MongoURI: getEnv("MONGODB_URI", "mongodb://localhost:27017/test"),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o"),

		MTAAPIKey:              getEnv("MTA_API_KEY", ""),
		MTABaseURL:             getEnv("MTA_BASE_URL", "https://api.mobile-text-alerts.com/v3"),
		MTAFromNumber:          getEnv("MTA_FROM_NUMBER", "+18776647380"),
		MTALongcodeID:          getEnv("MTA_LONGCODE_ID", "8337441549"),
		MTAAutoReplyTemplateID: getEnvAsInt("MTA_AUTO_REPLY_TEMPLATE_ID", 0),
		MTAWebhookSecret:       getEnv("MTA_WEBHOOK_SECRET", ""),
		MTAAlertEmail:          getEnv("MTA_ALERT_EMAIL", ""),
		MTARetryMaxAttempts:    getEnvAsInt("MTA_RETRY_MAX_ATTEMPTS", 3),
		MTARetryBaseDelay:      getEnvAsDuration("MTA_RETRY_BASE_DELAY", time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),
		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ReplyDelay:       getEnvAsDuration("REPLY_DELAY", 3*time.Second),
		ScheduleTimezone: getEnv("SCHEDULE_TIMEZONE", "America/Chicago"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		WebhookRateLimit:   getEnvAsFloat("WEBHOOK_RATE_LIMIT", 5),
		WebhookBurst:       getEnvAsInt("WEBHOOK_BURST", 10),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
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
