package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server configuration
	Environment string
	LogLevel    string
	LogFormat   string

	// Redis configuration
	RedisURL string

	// Upstream configuration
	QueueStatusURL string
	Email          string
	Password       string
	Timezone       string

	// Polling configuration
	QueueIDs         []string
	Interval         time.Duration
	FetchTimeout     time.Duration
	TimeoutCooldown  time.Duration
	SessionProbeRate float64

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Query API
	RateLimitPerMinute int

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		// Upstream
		QueueStatusURL: getEnv("QUEUESTATUS_URL", "https://queuestatus.com"),
		Email:          getEnv("EMAIL", ""),
		Password:       getEnv("PASSWORD", ""),
		Timezone:       getEnv("TIMEZONE", "US/Pacific"),

		// Polling
		QueueIDs:         getEnvAsList("QUEUE_IDS", getEnvAsList("QUEUE_ID", nil)),
		Interval:         getEnvAsSeconds("INTERVAL", 10*time.Second),
		FetchTimeout:     getEnvAsDuration("FETCH_TIMEOUT", "5s"),
		TimeoutCooldown:  getEnvAsDuration("TIMEOUT_COOLDOWN", "5s"),
		SessionProbeRate: getEnvAsFloat("SESSION_PROBE_RATE", 1),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Query API
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "8000"),
	}
}

// HasCredentials reports whether an elevated upstream login is configured.
func (c *Config) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

// getEnvAsSeconds accepts either a bare number of seconds or a Go duration.
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	if seconds := getEnvAsInt(key, -1); seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return getEnvAsDuration(key, defaultValue.String())
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
