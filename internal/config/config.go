package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Appointment document. When AppointmentsS3Bucket is set the document
	// lives in S3, otherwise on local disk at AppointmentsFile.
	AppointmentsFile     string
	AppointmentsS3Bucket string
	AppointmentsS3Key    string

	// Clinic
	ClinicName                 string
	ClinicTimezone             string
	AppointmentDurationMinutes int
	ClinicHoursJSON            string

	// LLM
	LLMProvider         string
	LLMFallbackProvider string
	LLMModel            string
	LLMTimeout          time.Duration
	GroqAPIKey          string
	GroqBaseURL         string
	OpenAIAPIKey        string
	GeminiAPIKey        string
	GeminiModel         string
	BedrockModelID      string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Sessions
	SessionStore  string
	SessionTTL    time.Duration
	SessionMax    int
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// SessionLockTTL bounds how long one turn may hold a Redis session lock
	// and SessionLockWait how long a second turn queues for it. Both default
	// to two LLM calls plus 10s.
	SessionLockTTL  time.Duration
	SessionLockWait time.Duration

	// HTTP
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Staff notifications
	NotifyEmailTo     []string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESConfigSet      string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8000"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AppointmentsFile:     getEnv("APPOINTMENTS_FILE", "data/appointments.json"),
		AppointmentsS3Bucket: getEnv("APPOINTMENTS_S3_BUCKET", ""),
		AppointmentsS3Key:    getEnv("APPOINTMENTS_S3_KEY", "appointments.json"),

		ClinicName:                 getEnv("CLINIC_NAME", "MediBook Clinic"),
		ClinicTimezone:             getEnv("CLINIC_TIMEZONE", "Africa/Algiers"),
		AppointmentDurationMinutes: getEnvAsInt("APPOINTMENT_DURATION_MINUTES", 30),
		ClinicHoursJSON:            getEnv("CLINIC_HOURS_JSON", ""),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "groq"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		LLMModel:            getEnv("LLM_MODEL", "llama-3.3-70b-versatile"),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 20*time.Second),
		GroqAPIKey:          getEnv("GROQ_API_KEY", ""),
		GroqBaseURL:         getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		SessionStore:  strings.ToLower(strings.TrimSpace(getEnv("SESSION_STORE", "memory"))),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", time.Hour),
		SessionMax:    getEnvAsInt("SESSION_MAX", 10000),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		NotifyEmailTo:     getEnvAsList("NOTIFY_EMAIL_TO"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "MediBook Clinic"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESConfigSet:      getEnv("SES_CONFIGURATION_SET", ""),
	}
	cfg.SessionLockTTL = getEnvAsDuration("SESSION_LOCK_TTL", 2*cfg.LLMTimeout+10*time.Second)
	cfg.SessionLockWait = getEnvAsDuration("SESSION_LOCK_WAIT", cfg.SessionLockTTL)
	return cfg
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
