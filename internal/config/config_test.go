package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	t.Setenv("CARTESIA_API_KEY", "test-cartesia-key")
}

func TestLoad(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if cfg.CartesiaAPIKey != "test-cartesia-key" {
		t.Errorf("Expected CartesiaAPIKey 'test-cartesia-key', got '%s'", cfg.CartesiaAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	t.Setenv("CARTESIA_API_KEY", "")
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("CARTESIA_API_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}

	if cfg.DeepgramLanguage != "en-US" {
		t.Errorf("Expected default DeepgramLanguage 'en-US', got '%s'", cfg.DeepgramLanguage)
	}

	if cfg.AssistantURL != "localhost:50051" {
		t.Errorf("Expected default AssistantURL 'localhost:50051', got '%s'", cfg.AssistantURL)
	}

	if cfg.AudioBufferSize != 64000 {
		t.Errorf("Expected default AudioBufferSize 64000, got %d", cfg.AudioBufferSize)
	}

	if cfg.VADSilenceFrames != 25 {
		t.Errorf("Expected default VADSilenceFrames 25, got %d", cfg.VADSilenceFrames)
	}

	if cfg.DictationContinuous {
		t.Error("Expected default DictationContinuous false, got true")
	}

	if cfg.Profiles != nil {
		t.Error("Expected no profile overrides without DICTATION_PROFILES_FILE")
	}
}

func TestConfig_DictationTimings(t *testing.T) {
	setRequired(t)
	t.Setenv("DICTATION_SILENCE_MS", "2000")
	t.Setenv("DICTATION_FALLBACK_MS", "8000")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	tests := []struct {
		name     string
		got      time.Duration
		expected time.Duration
	}{
		{"silence", cfg.SilenceTimeout(), 2 * time.Second},
		{"fallback", cfg.FallbackTimeout(), 8 * time.Second},
		{"settle", cfg.SettleDelay(), 150 * time.Millisecond},
		{"transient retry", cfg.TransientRetryDelay(), time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestConfig_FallbackShorterThanSilence(t *testing.T) {
	setRequired(t)
	t.Setenv("DICTATION_SILENCE_MS", "3000")
	t.Setenv("DICTATION_FALLBACK_MS", "1000")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error when fallback is shorter than silence window")
	}
}

func TestConfig_ProfilesFile(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	data := []byte("profiles:\n  android:\n    base_delay_ms: 2000\n    max_attempts: 2\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write profiles file: %v", err)
	}
	t.Setenv("DICTATION_PROFILES_FILE", path)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	override, ok := cfg.Profiles.Override("android")
	if !ok {
		t.Fatal("Expected android override to be present")
	}
	if override.BaseDelayMs != 2000 {
		t.Errorf("Expected base_delay_ms 2000, got %d", override.BaseDelayMs)
	}
	if override.MaxAttempts != 2 {
		t.Errorf("Expected max_attempts 2, got %d", override.MaxAttempts)
	}
	if _, ok := cfg.Profiles.Override("desktop"); ok {
		t.Error("Expected no desktop override")
	}
}

func TestParseProfiles_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown platform", "profiles:\n  windows-phone:\n    max_attempts: 1\n"},
		{"negative value", "profiles:\n  desktop:\n    max_attempts: -1\n"},
		{"base above max", "profiles:\n  ios:\n    base_delay_ms: 5000\n    max_delay_ms: 1000\n"},
		{"malformed yaml", "profiles: [android"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProfiles([]byte(tt.data)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
