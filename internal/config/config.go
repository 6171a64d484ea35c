package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// WhatsApp channel API
	WhatsAppBaseURL    string
	WhatsAppAPIToken   string
	WhatsAppInstanceID string

	// Inbound debounce + dispatch pacing
	DebounceWindow time.Duration
	AudioDelay     time.Duration
	ImageGapDelay  time.Duration
	ImageRunDelay  time.Duration

	// Commerce webhooks
	CommerceWebhookSecret string
	AllowUnsignedWebhooks bool

	// Language model
	OpenAIAPIKey      string
	OpenAIModel       string
	GeminiAPIKey      string
	GeminiModel       string
	LLMMaxRetries     int
	LLMBaseBackoff    time.Duration
	LLMTimeout        time.Duration
	LLMToolIterations int

	// Operator notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	OperatorEmail     string

	AdminJWTSecret string

	// Pipeline queue
	UseMemoryQueue      bool
	WorkerCount         int
	PipelineQueueURL    string
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

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		WhatsAppBaseURL:    getEnv("WHATSAPP_API_BASE_URL", ""),
		WhatsAppAPIToken:   getEnv("WHATSAPP_API_TOKEN", ""),
		WhatsAppInstanceID: getEnv("WHATSAPP_INSTANCE_ID", ""),

		DebounceWindow: getEnvAsDuration("DEBOUNCE_WINDOW", 5*time.Second),
		AudioDelay:     getEnvAsDuration("AUDIO_DELAY", 9*time.Second),
		ImageGapDelay:  getEnvAsDuration("IMAGE_GAP_DELAY", 2*time.Second),
		ImageRunDelay:  getEnvAsDuration("IMAGE_RUN_DELAY", 6*time.Second),

		CommerceWebhookSecret: getEnv("COMMERCE_WEBHOOK_SECRET", ""),
		AllowUnsignedWebhooks: getEnvAsBool("ALLOW_UNSIGNED_WEBHOOKS", false),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		LLMMaxRetries:     getEnvAsInt("LLM_MAX_RETRIES", 3),
		LLMBaseBackoff:    getEnvAsDuration("LLM_BASE_BACKOFF", 500*time.Millisecond),
		LLMTimeout:        getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),
		LLMToolIterations: getEnvAsInt("LLM_TOOL_ITERATIONS", 4),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "ZapFunnel"),
		OperatorEmail:     getEnv("OPERATOR_EMAIL", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 2),
		PipelineQueueURL:    getEnv("PIPELINE_QUEUE_URL", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// IsProduction reports whether the process runs with production semantics.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
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
