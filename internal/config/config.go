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
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	SMSProvider              string
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TelnyxWebhookSecret      string
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioWebhookURL         string
	SMSFromNumber            string
	DefaultRegion            string

	// Renewal window granted when an owner confirms a listing is still
	// available, measured from the later of now and the current expiration.
	RenewalWindow         time.Duration
	DisambiguationExpiry  time.Duration
	FallbackReplyInterval time.Duration
	AdminAlertInterval    time.Duration
	DashboardURL          string

	AdminEmail        string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SMSProvider:              strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "auto"))),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TelnyxWebhookSecret:      getEnv("TELNYX_WEBHOOK_SECRET", ""),
		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookURL:         getEnv("TWILIO_WEBHOOK_URL", ""),
		SMSFromNumber:            getEnv("SMS_FROM_NUMBER", ""),
		DefaultRegion:            getEnv("PHONE_DEFAULT_REGION", "US"),

		RenewalWindow:         getEnvAsDuration("RENEWAL_WINDOW", 30*24*time.Hour),
		DisambiguationExpiry:  getEnvAsDuration("DISAMBIGUATION_EXPIRY", 24*time.Hour),
		FallbackReplyInterval: getEnvAsDuration("FALLBACK_REPLY_INTERVAL", 24*time.Hour),
		AdminAlertInterval:    getEnvAsDuration("ADMIN_ALERT_INTERVAL", time.Hour),
		DashboardURL:          getEnv("DASHBOARD_URL", "https://hadirot.com/dashboard"),

		AdminEmail:        getEnv("ADMIN_EMAIL", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Hadirot"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
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
