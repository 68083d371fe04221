package config_test

import (
	"testing"
	"time"

	"tripcraft-pipeline/internal/config"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SEARCH_API_KEY", "test-search-key")
	t.Setenv("GEMINI_API_KEY", "test-gemini-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Search.BaseURL != "https://serpapi.com/search.json" {
		t.Errorf("unexpected search base URL: %s", cfg.Search.BaseURL)
	}
	if cfg.Search.Currency != "USD" || cfg.Search.CountryCode != "us" || cfg.Search.Locale != "en" {
		t.Errorf("unexpected search locale defaults: %+v", cfg.Search)
	}
	if cfg.Gemini.Model != "gemini-2.0-flash" {
		t.Errorf("unexpected model default: %s", cfg.Gemini.Model)
	}
	if cfg.Gemini.MaxRetries != 3 {
		t.Errorf("unexpected retry default: %d", cfg.Gemini.MaxRetries)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9191")
	t.Setenv("SEARCH_TIMEOUT", "45s")
	t.Setenv("GEMINI_TEMPERATURE", "0.2")
	t.Setenv("REDIS_POOL_SIZE", "25")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 9191 {
		t.Errorf("port override = %d, want 9191", cfg.HTTP.Port)
	}
	if cfg.Search.Timeout != 45*time.Second {
		t.Errorf("timeout override = %v, want 45s", cfg.Search.Timeout)
	}
	if cfg.Gemini.Temperature != 0.2 {
		t.Errorf("temperature override = %v, want 0.2", cfg.Gemini.Temperature)
	}
	if cfg.Redis.PoolSize != 25 {
		t.Errorf("pool size override = %d, want 25", cfg.Redis.PoolSize)
	}
}

func TestLoadRequiresAPIKeys(t *testing.T) {
	t.Setenv("SEARCH_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "test-gemini-key")

	if _, err := config.Load(); err == nil {
		t.Error("expected error when SEARCH_API_KEY is missing")
	}

	t.Setenv("SEARCH_API_KEY", "test-search-key")
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := config.Load(); err == nil {
		t.Error("expected error when GEMINI_API_KEY is missing")
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "not-a-number")
	t.Setenv("SEARCH_TIMEOUT", "soon")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("invalid port should fall back to 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Search.Timeout != 15*time.Second {
		t.Errorf("invalid timeout should fall back to 15s, got %v", cfg.Search.Timeout)
	}
}
