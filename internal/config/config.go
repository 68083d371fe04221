package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"tripcraft-pipeline/internal/pkg/logger"
)

type Config struct {
	Environment string

	HTTP   HTTPConfig
	Search SearchConfig
	Gemini GeminiConfig
	Redis  RedisConfig
	Log    logger.LogConfig
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SearchConfig covers both the flight and hotel search adapters; they talk
// to the same provider endpoint with different engine parameters.
type SearchConfig struct {
	APIKey      string
	BaseURL     string
	Currency    string
	CountryCode string
	Locale      string
	Timeout     time.Duration
	MaxRetries  int
}

type GeminiConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

type RedisConfig struct {
	StreamsURL   string
	MemoryURL    string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func Load() (*Config, error) {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTP: HTTPConfig{
			Port:         getEnvInt("PORT", 8080),
			ReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		},
		Search: SearchConfig{
			APIKey:      os.Getenv("SEARCH_API_KEY"),
			BaseURL:     getEnv("SEARCH_BASE_URL", "https://serpapi.com/search.json"),
			Currency:    getEnv("SEARCH_CURRENCY", "USD"),
			CountryCode: getEnv("SEARCH_COUNTRY", "us"),
			Locale:      getEnv("SEARCH_LOCALE", "en"),
			Timeout:     getEnvDuration("SEARCH_TIMEOUT", 15*time.Second),
			MaxRetries:  getEnvInt("SEARCH_MAX_RETRIES", 2),
		},
		Gemini: GeminiConfig{
			APIKey:      os.Getenv("GEMINI_API_KEY"),
			Model:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			MaxTokens:   getEnvInt("GEMINI_MAX_TOKENS", 8192),
			Temperature: getEnvFloat("GEMINI_TEMPERATURE", 0.6),
			Timeout:     getEnvDuration("GEMINI_TIMEOUT", 60*time.Second),
			MaxRetries:  getEnvInt("GEMINI_MAX_RETRIES", 3),
			RetryDelay:  getEnvDuration("GEMINI_RETRY_DELAY", 2*time.Second),
		},
		Redis: RedisConfig{
			StreamsURL:   getEnv("REDIS_STREAMS_URL", "redis://localhost:6379/0"),
			MemoryURL:    getEnv("REDIS_MEMORY_URL", "redis://localhost:6379/1"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Log: logger.LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Search.APIKey == "" {
		return errors.New("SEARCH_API_KEY is required")
	}
	if c.Gemini.APIKey == "" {
		return errors.New("GEMINI_API_KEY is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
