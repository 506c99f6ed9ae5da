// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is everything the service reads from its environment.
type Config struct {
	Port      string
	JWTSecret string

	// AudioSource selects the capture backend: "tone" or a path to a
	// raw PCM16 file.
	AudioSource string

	Language string

	// ProfileDir holds enrollment clips; SettingsDir holds the embedded
	// settings database.
	ProfileDir  string
	SettingsDir string

	// AssistURL is the conversational endpoint; empty disables the
	// assistant.
	AssistURL   string
	AssistToken string

	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration

	// MockTranscription swaps the Google backend for the offline mock.
	MockTranscription bool
}

// Load reads the environment, applying defaults for everything except
// the JWT secret.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AudioSource:       getEnv("AUDIO_SOURCE", "tone"),
		Language:          getEnv("TRANSCRIPTION_LANGUAGE", "en-US"),
		ProfileDir:        getEnv("PROFILE_DIR", "data/profile"),
		SettingsDir:       getEnv("SETTINGS_DIR", "data/settings"),
		AssistURL:         os.Getenv("ASSIST_URL"),
		AssistToken:       os.Getenv("ASSIST_TOKEN"),
		HeartbeatInterval: getEnvDuration("ASSIST_HEARTBEAT_INTERVAL", 30*time.Second),
		IdleTimeout:       getEnvDuration("ASSIST_IDLE_TIMEOUT", 2*time.Minute),
		MockTranscription: getEnvBool("MOCK_TRANSCRIPTION", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail at first use.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("ASSIST_HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("ASSIST_IDLE_TIMEOUT must not be negative, got %s", c.IdleTimeout)
	}
	if c.IdleTimeout > 0 && c.HeartbeatInterval >= c.IdleTimeout {
		return fmt.Errorf("heartbeat interval %s must be below idle timeout %s", c.HeartbeatInterval, c.IdleTimeout)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
