package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the dictation gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service, used only when logging the WebSocket endpoint.
	// Optional; if unset, logs ws://localhost:PORT/streams/dictation.
	GatewayURL string `envconfig:"GATEWAY_URL" default:""`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en-US"`

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" required:"true"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Downstream assistant service, probed with the gRPC health protocol
	AssistantURL     string `envconfig:"ASSISTANT_URL" default:"localhost:50051"`
	AssistantService string `envconfig:"ASSISTANT_SERVICE" default:""`
	AssistantTimeout int    `envconfig:"ASSISTANT_TIMEOUT" default:"5"` // seconds

	// Audio processing configuration
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"64000"`    // Pre-roll ring buffer size in bytes (2s of 16kHz PCM16)
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"25"`      // Frames of silence to mark speech end

	// Dictation timing (milliseconds)
	DictationSilenceMs        int  `envconfig:"DICTATION_SILENCE_MS" default:"1500"`
	DictationFallbackMs       int  `envconfig:"DICTATION_FALLBACK_MS" default:"15000"`
	DictationSettleMs         int  `envconfig:"DICTATION_SETTLE_MS" default:"150"`
	DictationTransientRetryMs int  `envconfig:"DICTATION_TRANSIENT_RETRY_MS" default:"1000"`
	DictationContinuous       bool `envconfig:"DICTATION_CONTINUOUS" default:"false"` // Hands-free mode: keep listening after each utterance

	// Optional YAML file overriding the per-platform restart profiles
	DictationProfilesFile string `envconfig:"DICTATION_PROFILES_FILE" default:""`

	// Seconds to wait for the client to answer a microphone permission request
	PermissionTimeout int `envconfig:"PERMISSION_TIMEOUT" default:"30"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics

	// Profiles holds the platform profile overrides read from DictationProfilesFile
	Profiles *ProfilesFile `ignored:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.DictationProfilesFile != "" {
		profiles, err := LoadProfilesFile(cfg.DictationProfilesFile)
		if err != nil {
			return nil, err
		}
		cfg.Profiles = profiles
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}
	if c.DictationSilenceMs <= 0 {
		return fmt.Errorf("DICTATION_SILENCE_MS must be positive, got %d", c.DictationSilenceMs)
	}
	if c.DictationFallbackMs < c.DictationSilenceMs {
		return fmt.Errorf("DICTATION_FALLBACK_MS (%d) must not be shorter than DICTATION_SILENCE_MS (%d)",
			c.DictationFallbackMs, c.DictationSilenceMs)
	}
	return nil
}

// SilenceTimeout returns the quiet window that finalizes an utterance
func (c *Config) SilenceTimeout() time.Duration {
	return time.Duration(c.DictationSilenceMs) * time.Millisecond
}

// FallbackTimeout returns the absolute ceiling for a single utterance
func (c *Config) FallbackTimeout() time.Duration {
	return time.Duration(c.DictationFallbackMs) * time.Millisecond
}

// SettleDelay returns the delay between finalizing and delivering a transcript
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.DictationSettleMs) * time.Millisecond
}

// TransientRetryDelay returns the wait before the single retry after a transient error
func (c *Config) TransientRetryDelay() time.Duration {
	return time.Duration(c.DictationTransientRetryMs) * time.Millisecond
}
