package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/dictation-gateway/internal/audio"
	"github.com/lexiqai/dictation-gateway/internal/config"
	"github.com/lexiqai/dictation-gateway/internal/observability"
	"github.com/lexiqai/dictation-gateway/internal/resilience"
)

const deepgramBreakerName = "deepgram"

// errNotActive is returned by Write when no connection is open
var errNotActive = errors.New("deepgram session is not active")

// DeepgramRecognizer creates recognition sessions backed by Deepgram's
// streaming API. All sessions share one circuit breaker so that an outage
// stops every client from hammering the service.
type DeepgramRecognizer struct {
	apiKey   string
	model    string
	language string
	breaker  *resilience.CircuitBreaker
	logger   zerolog.Logger
}

// NewDeepgramRecognizer creates a recognizer from gateway configuration
func NewDeepgramRecognizer(cfg *config.Config, logger zerolog.Logger) *DeepgramRecognizer {
	breaker := resilience.NewCircuitBreaker(
		deepgramBreakerName,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	})
	// A connect cancelled by Stop says nothing about Deepgram's health
	breaker.Ignore(func(err error) bool { return errors.Is(err, context.Canceled) })

	return &DeepgramRecognizer{
		apiKey:   cfg.DeepgramAPIKey,
		model:    cfg.DeepgramModel,
		language: cfg.DeepgramLanguage,
		breaker:  breaker,
		logger:   logger.With().Str("component", "deepgram").Logger(),
	}
}

// Healthy reports whether the recognizer is configured and its breaker is not open
func (r *DeepgramRecognizer) Healthy(ctx context.Context) (bool, error) {
	if r.apiKey == "" {
		return false, fmt.Errorf("deepgram API key is not configured")
	}
	if state, requests, failures, _ := r.breaker.GetStats(); state == resilience.StateOpen {
		return false, fmt.Errorf("%w: %d of %d requests failed", resilience.ErrCircuitOpen, failures, requests)
	}
	return true, nil
}

// NewSession implements Recognizer
func (r *DeepgramRecognizer) NewSession(cfg Config, listener Listener) (Session, error) {
	if listener == nil {
		return nil, fmt.Errorf("deepgram session requires a listener")
	}
	if cfg.Locale == "" {
		cfg.Locale = r.language
	}
	return &DeepgramSession{
		recognizer: r,
		cfg:        cfg,
		listener:   listener,
	}, nil
}

// DeepgramSession is one recognition handle. Each Start opens a fresh
// WebSocket; Stop finishes it. The session emits exactly one OnEnd per Start.
type DeepgramSession struct {
	recognizer *DeepgramRecognizer
	cfg        Config
	listener   Listener

	mu       sync.Mutex
	client   *listenClient.WSCallback
	cancel   context.CancelFunc
	run      uint64 // incremented per Start; stale callbacks compare against it
	active   bool
	ended    bool
	segments []string
	history  []Result
}

// callbackHandler routes SDK callbacks for one run of a session
type callbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	session *DeepgramSession
	run     uint64
}

func (h *callbackHandler) Open(*msginterfaces.OpenResponse) error {
	// OnStart is emitted by Start once Connect succeeds
	return nil
}

func (h *callbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	h.session.handleMessage(h.run, msg)
	return nil
}

func (h *callbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	h.session.recognizer.logger.Debug().Msg("Deepgram utterance end")
	return nil
}

func (h *callbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	h.session.recognizer.logger.Warn().
		Interface("error", errorResponse).
		Msg("Deepgram stream error")
	h.session.recognizer.breaker.RecordResult(false)
	observability.IncrementCircuitBreakerFailures(deepgramBreakerName)

	// Tear down off the SDK's goroutine
	go h.session.fail(h.run, ErrorNetwork)
	return nil
}

func (h *callbackHandler) Close(*msginterfaces.CloseResponse) error {
	h.session.finish(h.run)
	return nil
}

// Start opens a streaming connection
func (s *DeepgramSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.run++
	run := s.run
	s.ended = false
	s.segments = nil
	s.history = nil
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.recognizer.model,
		Language:       s.cfg.Locale,
		Punctuate:      true,
		InterimResults: s.cfg.InterimResults,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     audio.ClientSampleRate,
	}

	callback := &callbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		session:                s,
		run:                    run,
	}

	var client *listenClient.WSCallback
	err := s.recognizer.breaker.Call(func() error {
		c, err := listenClient.NewWSUsingCallback(runCtx, s.recognizer.apiKey, nil, tOptions, callback)
		if err != nil {
			return connectError(runCtx, fmt.Errorf("failed to create Deepgram client: %w", err))
		}
		if !c.Connect() {
			return connectError(runCtx, errors.New("failed to connect to Deepgram"))
		}
		client = c
		return nil
	})
	if err != nil {
		cancel()
		code := CodeOf(err)
		if code != ErrorAborted {
			observability.IncrementCircuitBreakerFailures(deepgramBreakerName)
		}
		s.recognizer.logger.Warn().Err(err).Msg("Deepgram session failed to start")
		s.listener.OnError(code)
		s.finish(run)
		return &Error{Code: code, Err: err}
	}

	s.mu.Lock()
	if s.run != run || s.ended {
		// Stopped while connecting
		s.mu.Unlock()
		client.Finish()
		return nil
	}
	s.client = client
	s.active = true
	s.mu.Unlock()

	s.recognizer.logger.Debug().
		Str("model", s.recognizer.model).
		Str("locale", s.cfg.Locale).
		Msg("Deepgram streaming session started")
	s.listener.OnStart()
	return nil
}

// connectError attributes err to ctx's cancellation when Stop abandoned the
// connect, so the failure is not charged to Deepgram
func connectError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// Write forwards PCM16 audio to the open connection
func (s *DeepgramSession) Write(p []byte) (int, error) {
	s.mu.Lock()
	client, active := s.client, s.active
	s.mu.Unlock()

	if !active || client == nil {
		return 0, errNotActive
	}
	n, err := client.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return n, nil
}

// Stop finishes the current connection and reports OnEnd
func (s *DeepgramSession) Stop() error {
	s.mu.Lock()
	run := s.run
	client := s.client
	cancel := s.cancel
	s.client = nil
	s.active = false
	s.mu.Unlock()

	if client != nil {
		client.Finish()
	}
	if cancel != nil {
		cancel()
	}
	s.finish(run)
	return nil
}

func (s *DeepgramSession) fail(run uint64, code ErrorCode) {
	s.mu.Lock()
	if s.run != run || s.ended {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.listener.OnError(code)
	_ = s.Stop()
}

// finish emits OnEnd once per run
func (s *DeepgramSession) finish(run uint64) {
	s.mu.Lock()
	if s.run != run || s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.active = false
	s.client = nil
	s.mu.Unlock()

	s.listener.OnEnd()
}

// handleMessage converts a Deepgram result into a cumulative result list:
// every entry is the utterance as it stood when a segment was finalized, and
// the last entry is the utterance so far including the current interim text.
func (s *DeepgramSession) handleMessage(run uint64, msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}

	s.mu.Lock()
	if s.run != run || s.ended {
		s.mu.Unlock()
		return
	}

	alts := make([]Alternative, 0, len(msg.Channel.Alternatives))
	for _, alt := range msg.Channel.Alternatives {
		alts = append(alts, Alternative{
			Transcript: joinSegments(s.segments, alt.Transcript),
			Confidence: alt.Confidence,
		})
	}
	if alts[0].Transcript == "" {
		s.mu.Unlock()
		return
	}

	current := Result{Alternatives: alts, IsFinal: msg.IsFinal}
	if msg.IsFinal {
		if text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript); text != "" {
			s.segments = append(s.segments, text)
		}
		s.history = append(s.history, current)
	}

	results := make([]Result, 0, len(s.history)+1)
	results = append(results, s.history...)
	if !msg.IsFinal {
		results = append(results, current)
	}
	stopAfter := msg.IsFinal && !s.cfg.Continuous
	s.mu.Unlock()

	s.listener.OnResult(results)

	if stopAfter {
		go s.Stop()
	}
}

func joinSegments(segments []string, tail string) string {
	tail = strings.TrimSpace(tail)
	if len(segments) == 0 {
		return tail
	}
	head := strings.Join(segments, " ")
	if tail == "" {
		return head
	}
	return head + " " + tail
}

// Ensure the Deepgram types implement the contract at compile time.
var (
	_ Recognizer = (*DeepgramRecognizer)(nil)
	_ Session    = (*DeepgramSession)(nil)
)
