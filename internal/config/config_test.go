package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "3002" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.SessionMaxAge != 60*time.Minute || cfg.SweepInterval != 15*time.Minute {
		t.Fatalf("eviction defaults = %v / %v", cfg.SessionMaxAge, cfg.SweepInterval)
	}
	if cfg.Recognizer.QueueSize != 256 {
		t.Fatalf("queue size = %d", cfg.Recognizer.QueueSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("SESSION_MAX_AGE", "30m")
	t.Setenv("RECOGNIZER_SILENCE_MS", "500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.SessionMaxAge != 30*time.Minute {
		t.Fatalf("SessionMaxAge = %v", cfg.SessionMaxAge)
	}
	if cfg.Recognizer.SilenceMs != 500 {
		t.Fatalf("SilenceMs = %d", cfg.Recognizer.SilenceMs)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("SESSION_MAX_AGE", "-1m")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestMediaStreamURL(t *testing.T) {
	cfg := &Config{Port: "3002", PublicHost: "voice.example.com"}
	if got := cfg.MediaStreamURL("CA1"); got != "wss://voice.example.com/media/CA1" {
		t.Fatalf("url = %q", got)
	}
	cfg.PublicHost = ""
	if got := cfg.MediaStreamURL("CA1"); got != "wss://localhost:3002/media/CA1" {
		t.Fatalf("fallback url = %q", got)
	}
}
