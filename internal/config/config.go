// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port       string
	PublicHost string // externally reachable host for the media stream WebSocket URL

	CoreAPIBaseURL string

	// Speech providers
	STTURL            string
	TTSURL            string
	ProviderAuthToken string
	STTTimeout        time.Duration
	TTSTimeout        time.Duration

	// Dialogue / intent LLM
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	// Telephony
	EmergencyTransferNumber string

	// Session registry eviction
	SessionMaxAge time.Duration
	SweepInterval time.Duration

	// Recognizer tuning
	Recognizer RecognizerConfig
}

// RecognizerConfig controls utterance segmentation for the streaming
// recognizer bridge.
type RecognizerConfig struct {
	MaxUtteranceMs int
	SilenceMs      int
	RMSThreshold   int
	QueueSize      int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:       getEnv("PORT", "3002"),
		PublicHost: getEnv("PUBLIC_HOST", ""),

		CoreAPIBaseURL: getEnv("CORE_API_BASE_URL", "http://127.0.0.1:3001"),

		STTURL:            getEnv("STT_URL", ""),
		TTSURL:            getEnv("TTS_URL", ""),
		ProviderAuthToken: getEnv("PROVIDER_AUTH_TOKEN", ""),
		STTTimeout:        getEnvDuration("STT_TIMEOUT", 15*time.Second),
		TTSTimeout:        getEnvDuration("TTS_TIMEOUT", 10*time.Second),

		LLMBaseURL: getEnv("LLM_BASE_URL", "http://127.0.0.1:8000/v1"),
		LLMAPIKey:  getEnv("LLM_API_KEY", ""),
		LLMModel:   getEnv("LLM_MODEL", ""),

		EmergencyTransferNumber: getEnv("EMERGENCY_TRANSFER_NUMBER", "911"),

		SessionMaxAge: getEnvDuration("SESSION_MAX_AGE", 60*time.Minute),
		SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 15*time.Minute),

		Recognizer: RecognizerConfig{
			MaxUtteranceMs: getEnvInt("RECOGNIZER_MAX_UTTERANCE_MS", 15000),
			SilenceMs:      getEnvInt("RECOGNIZER_SILENCE_MS", 700),
			RMSThreshold:   getEnvInt("RECOGNIZER_RMS_THRESHOLD", 200),
			QueueSize:      getEnvInt("RECOGNIZER_QUEUE_SIZE", 256),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.CoreAPIBaseURL == "" {
		return fmt.Errorf("CORE_API_BASE_URL cannot be empty")
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Recognizer.QueueSize <= 0 {
		return fmt.Errorf("RECOGNIZER_QUEUE_SIZE must be > 0")
	}
	return nil
}

// MediaStreamURL returns the wss:// URL a caller's media stream should
// connect to for the given call.
func (c *Config) MediaStreamURL(callID string) string {
	host := c.PublicHost
	if host == "" {
		host = "localhost:" + c.Port
	}
	return fmt.Sprintf("wss://%s/media/%s", host, callID)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
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
