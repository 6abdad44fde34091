package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/dictation-gateway/internal/audio"
	"github.com/lexiqai/dictation-gateway/internal/config"
	"github.com/lexiqai/dictation-gateway/internal/dictation"
	"github.com/lexiqai/dictation-gateway/internal/observability"
	"github.com/lexiqai/dictation-gateway/internal/stt"
	"github.com/lexiqai/dictation-gateway/internal/tts"
)

const (
	writeTimeout = 10 * time.Second
	sendQueueLen = 64
)

var (
	errClientGone           = errors.New("client disconnected")
	errPermissionRefused    = errors.New("client refused microphone access")
	errPermissionTimeout    = errors.New("no answer to microphone permission request")
	errPermissionSuperseded = errors.New("permission request superseded")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browsers connect from the application origin; origin policy is
		// enforced by the fronting proxy
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Deps are the shared collaborators handed to every client session
type Deps struct {
	Recognizer stt.Recognizer

	// NewPlayer builds a speech player bound to a client's bus. Nil disables
	// the speak event.
	NewPlayer func(bus *tts.Bus) tts.Player

	// Profiles supplies live platform profile overrides. Nil uses the
	// overrides loaded with the configuration.
	Profiles ProfileSource
}

// ProfileSource returns the current platform profile overrides
type ProfileSource interface {
	Current() *config.ProfilesFile
}

// outbound is one queued WebSocket frame
type outbound struct {
	messageType int
	data        []byte
}

// ClientSession holds the state of a single dictation client connection
type ClientSession struct {
	conn     *websocket.Conn
	config   *config.Config
	clientID string
	platform dictation.Platform

	controller *dictation.Controller
	bus        *tts.Bus
	player     tts.Player
	vad        *audio.VADDetector

	send chan outbound

	permMu     sync.Mutex
	permWaiter chan bool

	ctx   context.Context
	tasks sync.WaitGroup

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewClientSession creates a session for an upgraded connection
func NewClientSession(conn *websocket.Conn, cfg *config.Config, deps Deps, platform dictation.Platform) (*ClientSession, error) {
	clientID := uuid.New().String()
	correlationID := observability.NewCorrelationID()

	logger := observability.WithCorrelationID(correlationID).
		With().
		Str("client_id", clientID).
		Str("platform", string(platform)).
		Logger()

	metrics := observability.NewClientMetrics(clientID, string(platform))

	s := &ClientSession{
		conn:     conn,
		config:   cfg,
		clientID: clientID,
		platform: platform,
		bus:      tts.NewBus(),
		vad: audio.NewVADDetector(&audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameSize:       audio.ClientSampleRate / 50, // 20ms
		}),
		send:    make(chan outbound, sendQueueLen),
		ctx:     context.Background(),
		metrics: metrics,
		logger:  logger,
	}

	if deps.NewPlayer != nil {
		s.player = deps.NewPlayer(s.bus)
	}

	opts := dictation.OptionsFromConfig(cfg, platform)
	if deps.Profiles != nil {
		opts.Profile = dictation.ProfileFor(platform, deps.Profiles.Current())
	}
	opts.Bus = s.bus
	opts.Logger = logger
	opts.Recorder = metrics
	opts.RequestPermission = s.requestPermission

	controller, err := dictation.New(deps.Recognizer, opts, dictation.Handlers{
		OnTranscript: s.onTranscript,
		OnInterim:    s.onInterim,
		OnStatus:     s.onStatus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dictation controller: %w", err)
	}
	s.controller = controller

	return s, nil
}

// HandleDictationWS is the entry point for dictation WebSocket connections
func HandleDictationWS(cfg *config.Config, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.GetLogger()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already answered the request
			logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		platform := platformFor(r)
		session, err := NewClientSession(conn, cfg, deps, platform)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create client session")
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session setup failed"),
				time.Now().Add(time.Second),
			)
			return
		}

		if err := session.Run(r.Context()); err != nil {
			session.logger.Warn().Err(err).Msg("Client session ended with error")
		}
	}
}

// platformFor sniffs the User-Agent; an explicit ?platform= wins for
// non-browser clients.
func platformFor(r *http.Request) dictation.Platform {
	switch p := dictation.Platform(r.URL.Query().Get("platform")); p {
	case dictation.PlatformAndroid, dictation.PlatformIOS, dictation.PlatformSafari, dictation.PlatformDesktop:
		return p
	}
	return dictation.DetectPlatform(r.UserAgent())
}

// Run serves the connection until the client leaves or ctx is cancelled
func (s *ClientSession) Run(ctx context.Context) error {
	s.metrics.RecordClientStart()
	s.logger.Info().Msg("Dictation client connected")

	g, gctx := errgroup.WithContext(ctx)
	s.ctx = gctx

	g.Go(func() error {
		return s.writeLoop(gctx)
	})
	g.Go(func() error {
		return s.readLoop(gctx)
	})
	g.Go(func() error {
		// Unblocks the reader when the writer fails or the server shuts down
		<-gctx.Done()
		_ = s.conn.Close()
		return nil
	})

	s.onStatus(dictation.Status{State: dictation.Idle, Visual: dictation.VisualIdle})

	err := g.Wait()

	s.controller.Close()
	s.tasks.Wait()
	s.metrics.RecordClientEnd()
	s.logger.Info().Msg("Dictation client disconnected")

	if errors.Is(err, errClientGone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLoop handles all incoming WebSocket frames
func (s *ClientSession) readLoop(ctx context.Context) error {
	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return errClientGone
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.handleAudio(message)
		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				s.logger.Error().Err(err).Msg("Failed to parse client message")
				s.metrics.RecordError("bad_message", "gateway")
				continue
			}
			s.handleEvent(ctx, msg)
		}
	}
}

// handleEvent dispatches one client control event
func (s *ClientSession) handleEvent(ctx context.Context, msg ClientMessage) {
	switch msg.Event {
	case EventToggle:
		if err := s.controller.Toggle(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Toggle failed")
		}

	case EventStart:
		if err := s.controller.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Start failed")
		}

	case EventStop:
		s.controller.Stop()

	case EventSpeak:
		s.handleSpeak(ctx, msg.Text)

	case EventTTSStarted:
		s.bus.Publish(tts.SpeechStarted)

	case EventTTSCompleted:
		s.bus.Publish(tts.SpeechCompleted)

	case EventMicPermission:
		granted := msg.Granted != nil && *msg.Granted
		s.permMu.Lock()
		waiter := s.permWaiter
		s.permWaiter = nil
		s.permMu.Unlock()

		if waiter == nil {
			s.logger.Debug().Bool("granted", granted).Msg("Unsolicited microphone permission answer")
			return
		}
		waiter <- granted

	default:
		s.logger.Warn().Str("event", msg.Event).Msg("Unknown client event")
	}
}

// handleAudio feeds one binary audio frame to the VAD and the controller
func (s *ClientSession) handleAudio(data []byte) {
	s.metrics.RecordAudioBytes("in", int64(len(data)))

	for _, ev := range s.vad.ProcessPCM(data) {
		s.sendJSON(voiceActivityMessage(ev == audio.VADSpeechStarted))
	}

	if err := s.controller.WriteAudio(data); err != nil {
		s.logger.Debug().Err(err).Msg("Error forwarding audio to recognizer")
		s.metrics.RecordError("stt_send_error", "deepgram")
	}
}

// handleSpeak plays text through the player without blocking the reader
func (s *ClientSession) handleSpeak(ctx context.Context, text string) {
	if s.player == nil {
		s.sendJSON(ServerMessage{Event: EventError, Message: "speech output is not available"})
		return
	}
	if text == "" {
		return
	}

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()

		s.logger.Info().Int("chars", len(text)).Msg("Sending text to TTS")
		s.metrics.RecordTTSStart()

		err := s.player.Speak(ctx, text, s)
		s.metrics.RecordTTSEnd(err == nil)
		if err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Error synthesizing text with TTS")
			s.metrics.RecordError("tts_error", "cartesia")
			s.sendJSON(ServerMessage{Event: EventError, Message: "speech output failed"})
		}
	}()
}

// WriteAudio implements tts.AudioSink by queueing a binary frame
func (s *ClientSession) WriteAudio(ctx context.Context, chunk *tts.AudioChunk) error {
	s.metrics.RecordAudioBytes("out", int64(len(chunk.Data)))
	return s.enqueue(ctx, outbound{messageType: websocket.BinaryMessage, data: chunk.Data})
}

// requestPermission asks the client for microphone access and waits for the
// answer or the configured timeout.
func (s *ClientSession) requestPermission(ctx context.Context) error {
	waiter := make(chan bool, 1)

	s.permMu.Lock()
	if s.permWaiter != nil {
		close(s.permWaiter)
	}
	s.permWaiter = waiter
	s.permMu.Unlock()

	s.sendJSON(ServerMessage{Event: EventMicPermissionRequest})

	timer := time.NewTimer(time.Duration(s.config.PermissionTimeout) * time.Second)
	defer timer.Stop()

	select {
	case granted, ok := <-waiter:
		if !ok {
			return errPermissionSuperseded
		}
		if !granted {
			return errPermissionRefused
		}
		return nil
	case <-timer.C:
		s.permMu.Lock()
		if s.permWaiter == waiter {
			s.permWaiter = nil
		}
		s.permMu.Unlock()
		return errPermissionTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ClientSession) onTranscript(text string) {
	s.logger.Info().Int("chars", len(text)).Msg("Utterance finalized")
	s.sendJSON(ServerMessage{Event: EventTranscript, Text: text})
}

func (s *ClientSession) onInterim(text string) {
	s.sendJSON(ServerMessage{Event: EventInterim, Text: text})
}

func (s *ClientSession) onStatus(status dictation.Status) {
	if status.Err != nil {
		s.metrics.RecordError(string(status.Reason), "dictation")
	}
	s.sendJSON(statusMessage(status))
}

// sendJSON queues a text frame, dropping it once the connection is gone
func (s *ClientSession) sendJSON(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("event", msg.Event).Msg("Failed to marshal server message")
		return
	}
	if err := s.enqueue(s.ctx, outbound{messageType: websocket.TextMessage, data: data}); err != nil {
		s.logger.Debug().Str("event", msg.Event).Msg("Client gone, dropping message")
	}
}

func (s *ClientSession) enqueue(ctx context.Context, msg outbound) error {
	select {
	case s.send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop owns all writes to the connection
func (s *ClientSession) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return ctx.Err()
		case msg := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return err
			}
			if err := s.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				return fmt.Errorf("failed to write to client: %w", err)
			}
		}
	}
}

var _ tts.AudioSink = (*ClientSession)(nil)
