package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	NatsURL          string
	EventSubjectBase string
	JWTSecret        string
	SummaryCacheTTL  time.Duration
	SyncRateLimit    int
	SyncRateWindow   time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// SyncSubject is the NATS subject for curriculum sync events.
func (c Config) SyncSubject() string {
	return c.EventSubjectBase + ".curriculum.synced"
}

// GradedSubject is the NATS subject for grading events.
func (c Config) GradedSubject() string {
	return c.EventSubjectBase + ".submission.graded"
}

// Load reads configuration values from environment variables and an optional
// .env file. All keys carry the AULA_ prefix, e.g. AULA_DATABASE_URL.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("AULA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Aula API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("event.subject_base", "aula")
	v.SetDefault("summary.cache_ttl", "2m")
	v.SetDefault("sync.rate_limit", 5)
	v.SetDefault("sync.rate_window", "1m")

	ttl, err := time.ParseDuration(v.GetString("summary.cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid summary cache ttl: %w", err)
	}

	window, err := time.ParseDuration(v.GetString("sync.rate_window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid sync rate window: %w", err)
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		NatsURL:          v.GetString("nats.url"),
		EventSubjectBase: v.GetString("event.subject_base"),
		JWTSecret:        v.GetString("jwt.secret"),
		SummaryCacheTTL:  ttl,
		SyncRateLimit:    v.GetInt("sync.rate_limit"),
		SyncRateWindow:   window,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	return cfg, nil
}
