package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/dictation-gateway/internal/audio"
	"github.com/lexiqai/dictation-gateway/internal/config"
	"github.com/lexiqai/dictation-gateway/internal/observability"
	"github.com/lexiqai/dictation-gateway/internal/resilience"
)

const (
	cartesiaBreakerName = "cartesia"
	defaultCartesiaURL  = "https://api.cartesia.ai/v1/tts"

	// 100ms of 16kHz PCM16 per outgoing frame
	streamChunkBytes = audio.ClientSampleRate / 10 * 2
)

// CartesiaClient synthesizes speech with Cartesia's TTS API
type CartesiaClient struct {
	apiKey     string
	apiURL     string
	voiceID    string
	modelID    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config, logger zerolog.Logger) *CartesiaClient {
	breaker := resilience.NewCircuitBreaker(
		cartesiaBreakerName,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	})

	retry := resilience.DefaultRetryConfig()
	if cfg.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialBackoff > 0 {
		retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond
	}

	return &CartesiaClient{
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     defaultCartesiaURL,
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    breaker,
		retry:      retry,
		logger:     logger.With().Str("component", "cartesia").Logger(),
	}
}

// Healthy reports whether the client is configured and its breaker is not open
func (c *CartesiaClient) Healthy(ctx context.Context) (bool, error) {
	if c.apiKey == "" {
		return false, fmt.Errorf("cartesia API key is not configured")
	}
	if state, requests, failures, _ := c.breaker.GetStats(); state == resilience.StateOpen {
		return false, fmt.Errorf("%w: %d of %d requests failed", resilience.ErrCircuitOpen, failures, requests)
	}
	return true, nil
}

// Synthesize converts text to PCM16 audio at the client sample rate
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	reqBody := CartesiaRequest{
		Text:            text,
		VoiceID:         c.voiceID,
		ModelID:         c.modelID,
		OutputFormat:    "pcm",
		SampleRate:      audio.CartesiaSampleRate,
		Speed:           1.0,
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var pcm []byte
	err = resilience.RetryContext(ctx, func() error {
		return c.breaker.Call(func() error {
			data, err := c.post(ctx, jsonData)
			if err != nil {
				observability.IncrementCircuitBreakerFailures(cartesiaBreakerName)
				c.logger.Warn().Err(err).Msg("Cartesia request failed")
				return err
			}
			pcm = data
			return nil
		})
	}, c.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		return nil, fmt.Errorf("cartesia synthesis failed: %w", err)
	}

	if len(pcm) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio data")
	}

	out, err := audio.ResamplePCM16(pcm, audio.CartesiaSampleRate, audio.ClientSampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to convert audio format: %w", err)
	}
	return out, nil
}

func (c *CartesiaClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("cartesia API returned status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, resilience.NewRetryableError(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewRetryableError(fmt.Errorf("error reading Cartesia audio response: %w", err))
	}
	return data, nil
}

// CartesiaPlayer speaks through a CartesiaClient and signals playback on a bus
type CartesiaPlayer struct {
	client *CartesiaClient
	bus    *Bus
	logger zerolog.Logger

	// wait blocks for the time the client needs to play d worth of audio
	wait func(ctx context.Context, d time.Duration) error
}

// NewCartesiaPlayer creates a player publishing to bus
func NewCartesiaPlayer(client *CartesiaClient, bus *Bus, logger zerolog.Logger) *CartesiaPlayer {
	return &CartesiaPlayer{
		client: client,
		bus:    bus,
		logger: logger,
		wait:   sleepContext,
	}
}

// Speak synthesizes text, streams it to sink and blocks until the client has
// had time to play it.
func (p *CartesiaPlayer) Speak(ctx context.Context, text string, sink AudioSink) error {
	p.bus.Publish(SpeechStarted)
	defer p.bus.Publish(SpeechCompleted)

	pcm, err := p.client.Synthesize(ctx, text)
	if err != nil {
		return err
	}

	for off := 0; off < len(pcm); off += streamChunkBytes {
		end := off + streamChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := &AudioChunk{
			Data:       pcm[off:end],
			SampleRate: audio.ClientSampleRate,
			Channels:   1,
		}
		if err := sink.WriteAudio(ctx, chunk); err != nil {
			return fmt.Errorf("failed to stream TTS audio: %w", err)
		}
	}

	playback := audio.PCM16Duration(len(pcm), audio.ClientSampleRate)
	p.logger.Debug().
		Int("bytes", len(pcm)).
		Dur("playback", playback).
		Msg("TTS audio streamed")

	return p.wait(ctx, playback)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Player = (*CartesiaPlayer)(nil)
