package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string

	DatabaseURL string
	RedisURL    string

	Casdoor CasdoorConfig
	Events  EventsConfig
	Session SessionConfig
}

type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string

	// DevUserHeader, when set outside production, lets requests without a
	// token identify themselves through this header.
	DevUserHeader string
}

type EventsConfig struct {
	// Driver is "kafka", "memory" or "none".
	Driver  string
	Brokers []string
	Topic   string
}

type SessionConfig struct {
	AutoSaveInterval time.Duration
	SnapshotTTL      time.Duration
	SubmitTimeout    time.Duration
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),

		Casdoor: CasdoorConfig{
			Endpoint:      getEnv("CASDOOR_ENDPOINT", ""),
			ClientID:      getEnv("CASDOOR_CLIENT_ID", ""),
			ClientSecret:  getEnv("CASDOOR_CLIENT_SECRET", ""),
			Cert:          getEnv("CASDOOR_CERT", ""),
			Organization:  getEnv("CASDOOR_ORGANIZATION", ""),
			Application:   getEnv("CASDOOR_APPLICATION", ""),
			DevUserHeader: getEnv("AUTH_DEV_USER_HEADER", ""),
		},
		Events: EventsConfig{
			Driver:  strings.ToLower(getEnv("EVENTS_DRIVER", "memory")),
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "exam-session.events"),
		},
	}

	var err error
	if cfg.Session.AutoSaveInterval, err = getDuration("AUTOSAVE_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Session.SnapshotTTL, err = getDuration("SNAPSHOT_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Session.SubmitTimeout, err = getDuration("SUBMIT_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Events.Driver == "kafka" && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_DRIVER=kafka")
	}
	if c.Session.AutoSaveInterval <= 0 {
		return fmt.Errorf("AUTOSAVE_INTERVAL must be positive")
	}
	if c.IsProduction() && c.Casdoor.DevUserHeader != "" {
		return fmt.Errorf("AUTH_DEV_USER_HEADER must not be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// getDuration accepts Go durations ("45s") or plain seconds ("45").
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
