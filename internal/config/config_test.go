package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("RETRY_MAX_ATTEMPTS", "")
	t.Setenv("CALL_INACTIVITY_TIMEOUT", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.ClinicTimezone != "Australia/Sydney" {
		t.Fatalf("expected default clinic timezone, got %s", cfg.ClinicTimezone)
	}
	// Total tries, not retries: 4 attempts leaves room for 3 retries.
	if cfg.RetryMaxAttempts != 4 {
		t.Fatalf("expected 4 retry attempts by default, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryBaseDelay != time.Second {
		t.Fatalf("expected default retry base delay, got %s", cfg.RetryBaseDelay)
	}
	if cfg.RetryMaxDelay != 10*time.Second {
		t.Fatalf("expected default retry max delay, got %s", cfg.RetryMaxDelay)
	}
	if cfg.CallInactivityTimeout != 10*time.Minute {
		t.Fatalf("expected default call inactivity timeout, got %s", cfg.CallInactivityTimeout)
	}
	if cfg.MaxEmptySpeechTurns != 2 {
		t.Fatalf("expected default empty speech limit, got %d", cfg.MaxEmptySpeechTurns)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("RETRY_MAX_ATTEMPTS", "6")
	t.Setenv("AVAILABILITY_CACHE_TTL", "45s")
	t.Setenv("CALL_INACTIVITY_TIMEOUT", "20m")
	t.Setenv("NAME_SIMILARITY_THRESHOLD", "0.7")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.RetryMaxAttempts != 6 {
		t.Fatalf("expected retry attempts override, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.AvailabilityCacheTTL != 45*time.Second {
		t.Fatalf("expected cache TTL override, got %s", cfg.AvailabilityCacheTTL)
	}
	if cfg.CallInactivityTimeout != 20*time.Minute {
		t.Fatalf("expected inactivity timeout override, got %s", cfg.CallInactivityTimeout)
	}
	if cfg.NameSimilarityThreshold != 0.7 {
		t.Fatalf("expected similarity threshold override, got %v", cfg.NameSimilarityThreshold)
	}
}
