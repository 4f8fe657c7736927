// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port     string
	LogLevel string

	DBDriver    string // sqlite, postgres or pgx
	DatabaseURL string

	LLMProvider  string // gemini, openai or mock
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string

	ProviderTimeout time.Duration
	PatientLanguage string
	SessionIdleTTL  time.Duration

	NatsURL       string
	NotifyChannel string
	CORSOrigins   []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DBDriver:        strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DatabaseURL:     getEnv("DATABASE_URL", "./data/medisim.db"),
		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "mock")),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL_CHAT", "gpt-4o-mini"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		PatientLanguage: getEnv("PATIENT_LANGUAGE", "English"),
		SessionIdleTTL:  getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
		NatsURL:         getEnv("NATS_URL", ""),
		NotifyChannel:   getEnv("POSTGRES_NOTIFY_CHANNEL", "simulation_completed"),
		CORSOrigins:     splitList(getEnv("CORS_ORIGINS", "*")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.DBDriver {
	case "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite, postgres or pgx, got %q", c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}
	switch c.LLMProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case "mock":
	default:
		return fmt.Errorf("LLM_PROVIDER must be gemini, openai or mock, got %q", c.LLMProvider)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be > 0")
	}
	if c.SessionIdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must not be negative")
	}
	return nil
}

// UsesPostgres reports whether the configured driver talks to PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.DBDriver == "postgres" || c.DBDriver == "pgx"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
