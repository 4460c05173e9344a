package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	Hue         HueConfig
	Stream      StreamConfig
	Tail        TailConfig
	Health      HealthConfig
	Retention   RetentionConfig
	RabbitMQ    RabbitMQConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// HueConfig holds bridge connection settings
type HueConfig struct {
	BridgeIP  string
	BridgeURL string
	AppKey    string
	VerifyTLS bool
}

// BaseURL returns the bridge base URL, preferring the explicit override.
func (h HueConfig) BaseURL() string {
	if h.BridgeURL != "" {
		return strings.TrimRight(h.BridgeURL, "/")
	}
	return "https://" + h.BridgeIP
}

// StreamConfig holds event stream settings
type StreamConfig struct {
	QueueSize      int
	ReadTimeout    time.Duration
	ReconnectDelay time.Duration
	MaxFailures    int
}

// TailConfig holds live tail settings
type TailConfig struct {
	DrainBatch   int
	PollInterval time.Duration
	IdleSleep    time.Duration
}

// HealthConfig holds device health scoring settings
type HealthConfig struct {
	StaleAfter time.Duration
}

// RetentionConfig holds event retention settings
type RetentionConfig struct {
	Days     int
	Interval time.Duration
}

// RabbitMQConfig holds optional event publishing settings
type RabbitMQConfig struct {
	URL            string
	EventsExchange string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "hue-event-logger"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8080),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Hue: HueConfig{
			BridgeIP:  getEnv("HUE_BRIDGE_IP", ""),
			BridgeURL: getEnv("HUE_BRIDGE_URL", ""),
			AppKey:    getEnv("HUE_APP_KEY", ""),
			VerifyTLS: getEnvAsBool("HUE_VERIFY_TLS", false),
		},
		Stream: StreamConfig{
			QueueSize:      getEnvAsInt("EVENT_QUEUE_SIZE", 10000),
			ReadTimeout:    getEnvAsDuration("STREAM_TIMEOUT", 60*time.Second),
			ReconnectDelay: getEnvAsDuration("RECONNECT_DELAY", 2*time.Second),
			MaxFailures:    getEnvAsInt("STREAM_MAX_FAILURES", 10),
		},
		Tail: TailConfig{
			DrainBatch:   getEnvAsInt("TAIL_DRAIN_BATCH", 100),
			PollInterval: getEnvAsDuration("TAIL_POLL_INTERVAL", 2*time.Second),
			IdleSleep:    getEnvAsDuration("TAIL_IDLE_SLEEP", 500*time.Millisecond),
		},
		Health: HealthConfig{
			StaleAfter: time.Duration(getEnvAsInt("HEALTH_STALE_HOURS", 1)) * time.Hour,
		},
		Retention: RetentionConfig{
			Days:     getEnvAsInt("RETENTION_DAYS", 30),
			Interval: getEnvAsDuration("RETENTION_INTERVAL", time.Hour),
		},
		RabbitMQ: RabbitMQConfig{
			URL:            getEnv("RABBITMQ_URL", ""),
			EventsExchange: getEnv("RABBITMQ_EVENTS_EXCHANGE", "hue.events.exchange"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if c.Hue.BridgeIP == "" && c.Hue.BridgeURL == "" {
		return fmt.Errorf("HUE_BRIDGE_IP is required but not set in environment variables")
	}
	if c.Hue.AppKey == "" {
		return fmt.Errorf("HUE_APP_KEY is required; provision an application key on the bridge first")
	}
	if c.Stream.QueueSize <= 0 {
		return fmt.Errorf("EVENT_QUEUE_SIZE must be positive, got %d", c.Stream.QueueSize)
	}
	if c.Stream.MaxFailures <= 0 {
		return fmt.Errorf("STREAM_MAX_FAILURES must be positive, got %d", c.Stream.MaxFailures)
	}
	if c.Stream.ReadTimeout <= 0 {
		return fmt.Errorf("STREAM_TIMEOUT must be positive, got %s", c.Stream.ReadTimeout)
	}
	if c.Stream.ReconnectDelay < 0 {
		return fmt.Errorf("RECONNECT_DELAY must not be negative, got %s", c.Stream.ReconnectDelay)
	}
	if c.Tail.DrainBatch <= 0 {
		return fmt.Errorf("TAIL_DRAIN_BATCH must be positive, got %d", c.Tail.DrainBatch)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("90s", "2m") or bare seconds ("60").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
