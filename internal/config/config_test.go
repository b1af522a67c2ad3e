package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.BaseBackoff != time.Second {
		t.Errorf("BaseBackoff = %v, want 1s", cfg.BaseBackoff)
	}
	if cfg.MaxBackoff != 60*time.Second {
		t.Errorf("MaxBackoff = %v, want 60s", cfg.MaxBackoff)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.BatchSize)
	}
	if cfg.Concurrency != 5 {
		t.Errorf("Concurrency = %d, want 5", cfg.Concurrency)
	}
	if cfg.FailAlertThreshold != 10 {
		t.Errorf("FailAlertThreshold = %d, want 10", cfg.FailAlertThreshold)
	}
	if cfg.FailAlertWindow != 5*time.Minute {
		t.Errorf("FailAlertWindow = %v, want 5m", cfg.FailAlertWindow)
	}
	if cfg.FailAlertCooldown != time.Hour {
		t.Errorf("FailAlertCooldown = %v, want 1h", cfg.FailAlertCooldown)
	}
	if cfg.EPCacheTTL != 10*time.Minute {
		t.Errorf("EPCacheTTL = %v, want 10m", cfg.EPCacheTTL)
	}
	if cfg.APIAddr != ":8080" {
		t.Errorf("APIAddr = %q, want :8080", cfg.APIAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "3")
	t.Setenv("BASE_BACKOFF_MS", "500")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("API_ADDR", ":9090")

	cfg := Load()

	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.BaseBackoff != 500*time.Millisecond {
		t.Errorf("BaseBackoff = %v, want 500ms", cfg.BaseBackoff)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.BatchSize)
	}
	if cfg.APIAddr != ":9090" {
		t.Errorf("APIAddr = %q, want :9090", cfg.APIAddr)
	}
}
