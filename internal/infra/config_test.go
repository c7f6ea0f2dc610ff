package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL = %q", cfg.StorageBaseURL)
	}
	if cfg.ItemTimeout != 10*time.Minute {
		t.Fatalf("ItemTimeout = %s, want 10m", cfg.ItemTimeout)
	}
	if cfg.SweepSchedule != "@every 1m" {
		t.Fatalf("SweepSchedule = %q", cfg.SweepSchedule)
	}
}

func TestLoadConfigCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, https://b.example.com ,")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://a.example.com" || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadConfigCallbackURL(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://comics.example.com/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := "https://comics.example.com/v1/callbacks/inference"
	if got := cfg.CallbackURL(); got != want {
		t.Fatalf("CallbackURL() = %q, want %q", got, want)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SUBMIT_RETRIES", "5")
	t.Setenv("INFERENCE_TIMEOUT_SECONDS", "7")
	t.Setenv("ITEM_TIMEOUT_MINUTES", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SubmitRetries != 5 {
		t.Fatalf("SubmitRetries = %d, want 5", cfg.SubmitRetries)
	}
	if cfg.InferenceTimeout != 7*time.Second {
		t.Fatalf("InferenceTimeout = %s, want 7s", cfg.InferenceTimeout)
	}
	if cfg.ItemTimeout != 3*time.Minute {
		t.Fatalf("ItemTimeout = %s, want 3m", cfg.ItemTimeout)
	}
}
