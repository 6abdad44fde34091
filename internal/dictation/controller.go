// Package dictation turns a push-to-talk (or hands-free) gesture into one
// finalized utterance per pause, on top of a recognition session that may end
// on its own at any time.
//
// The controller owns a single stt.Session. It restarts the session when the
// engine drops it, gives up when that happens too often, finalizes on
// silence, and ignores everything heard while the assistant is speaking.
//
// Every input (session events, timers, speech signals, caller calls) takes
// the controller mutex. Calls leaving the controller (session Start/Stop and
// the caller's handlers) are queued while locked and run after unlocking, so
// they are free to call back in.
package dictation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/dictation-gateway/internal/audio"
	"github.com/lexiqai/dictation-gateway/internal/stt"
	"github.com/lexiqai/dictation-gateway/internal/tts"
)

// Finalization triggers, reported to the Recorder
const (
	triggerSilence    = "silence"
	triggerFallback   = "fallback"
	triggerSessionEnd = "session_end"
)

// Controller is the voice dictation state machine for one client
type Controller struct {
	mu sync.Mutex

	recognizer stt.Recognizer
	opts       Options
	handlers   Handlers
	clock      Clock
	logger     zerolog.Logger
	recorder   Recorder

	ctx     context.Context
	session stt.Session
	preroll *audio.RingBuffer
	audioMu sync.Mutex // orders pre-roll flushes against live writes

	state      State
	listening  bool
	transcript transcript
	gate       submissionGate
	guard      loopGuard

	// sessionLive is true from Start until the session's end event;
	// stopping marks an end we asked for.
	sessionLive   bool
	stopping      bool
	startAfterEnd bool

	permissionGranted bool
	ttsActive         bool
	resumePending     bool
	retryUsed         bool
	epoch             uint64

	silence  timerSlot
	fallback timerSlot
	restart  timerSlot
	retry    timerSlot
	settle   timerSlot
	timerSeq uint64

	lastStatus Status
	effects    []func()

	unsubscribe func()
	closed      bool
}

// New creates an idle controller
func New(recognizer stt.Recognizer, opts Options, handlers Handlers) (*Controller, error) {
	if recognizer == nil {
		return nil, ErrNoRecognizer
	}
	opts.applyDefaults()

	c := &Controller{
		recognizer: recognizer,
		opts:       opts,
		handlers:   handlers,
		clock:      opts.Clock,
		logger:     opts.Logger.With().Str("component", "dictation").Str("platform", string(opts.Profile.Platform)).Logger(),
		recorder:   opts.Recorder,
		ctx:        context.Background(),
		preroll:    audio.NewRingBuffer(opts.PrerollBytes),
		state:      Idle,
		silence:    timerSlot{name: "silence"},
		fallback:   timerSlot{name: "fallback"},
		restart:    timerSlot{name: "restart"},
		retry:      timerSlot{name: "retry"},
		settle:     timerSlot{name: "settle"},
		lastStatus: Status{State: Idle, Visual: VisualIdle},
	}

	if opts.Bus != nil {
		c.ttsActive = opts.Bus.Active()
		c.unsubscribe = opts.Bus.Subscribe(c.onSpeech)
	}
	return c, nil
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsListening reports the caller-visible listening intent
func (c *Controller) IsListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Toggle turns listening on when it is off and off when it is on
func (c *Controller) Toggle(ctx context.Context) error {
	if c.IsListening() {
		c.Stop()
		return nil
	}
	return c.Start(ctx)
}

// Start turns listening on. It is a no-op while already listening. ctx bounds
// the recognition sessions started on behalf of this request.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.listening {
		c.mu.Unlock()
		return nil
	}

	c.epoch++
	c.ctx = ctx
	c.listening = true
	c.cancelTimers()
	c.transcript.clear()
	c.gate.reset()
	c.guard.reset()
	c.retryUsed = false
	c.resumePending = false
	c.preroll.Clear()
	c.recorder.RecordListening(true)
	c.setState(Starting, ReasonNone, nil)

	if c.opts.Profile.RequiresPermissionPrompt && !c.permissionGranted && c.opts.RequestPermission != nil {
		// Awaited off the caller's goroutine: the answer usually arrives
		// through the same connection that issued the toggle.
		go c.awaitPermission(ctx, c.epoch)
	} else {
		c.beginSession()
	}
	c.unlockAndRun()
	return nil
}

// Stop turns listening off. Timers are cancelled and the pending transcript is
// discarded before Stop returns; no transcript is delivered afterwards.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.epoch++
	wasListening := c.listening
	c.listening = false
	c.cancelTimers()
	c.transcript.clear()
	c.gate.reset()
	c.guard.reset()
	c.resumePending = false
	c.startAfterEnd = false
	c.preroll.Clear()
	c.stopSession()
	if wasListening {
		c.recorder.RecordListening(false)
		c.logger.Debug().Msg("Listening stopped by caller")
	}
	c.setState(Idle, ReasonNone, nil)
	c.unlockAndRun()
}

// Close stops listening and detaches from the speech bus
func (c *Controller) Close() {
	c.Stop()

	c.mu.Lock()
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// WriteAudio forwards PCM16 audio to the live session. While a session is
// starting the audio is held and flushed once it has started; otherwise it
// is dropped.
func (c *Controller) WriteAudio(p []byte) error {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()

	c.mu.Lock()
	state := c.state
	w, writable := c.session.(io.Writer)
	live := c.sessionLive && !c.stopping && !c.ttsActive
	if state == Starting && c.listening && !c.ttsActive {
		c.preroll.Write(p)
	}
	c.mu.Unlock()

	if state != Listening || !live || !writable {
		return nil
	}
	if err := c.flushPreroll(w); err != nil {
		return err
	}
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("failed to forward audio: %w", err)
	}
	return nil
}

// flushPreroll writes held audio to w. Callers hold audioMu.
func (c *Controller) flushPreroll(w io.Writer) error {
	held := c.preroll.Drain()
	if len(held) == 0 {
		return nil
	}
	c.logger.Debug().
		Int("bytes", len(held)).
		Int64("dropped_total", c.preroll.Dropped()).
		Msg("Flushing pre-roll audio")
	if _, err := w.Write(held); err != nil {
		return fmt.Errorf("failed to flush pre-roll audio: %w", err)
	}
	return nil
}

// awaitPermission requests microphone access and starts the session once it
// is granted, unless listening was toggled in the meantime.
func (c *Controller) awaitPermission(ctx context.Context, epoch uint64) {
	err := c.opts.RequestPermission(ctx)

	c.mu.Lock()
	if c.epoch != epoch || !c.listening {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Microphone permission refused")
		c.fail(ReasonPermissionDenied, fmt.Errorf("%w: %v", ErrPermissionDenied, err))
	} else {
		c.permissionGranted = true
		c.beginSession()
	}
	c.unlockAndRun()
}

// OnStart implements stt.Listener
func (c *Controller) OnStart() {
	c.mu.Lock()
	if c.state != Starting || !c.sessionLive || c.stopping {
		c.mu.Unlock()
		return
	}
	c.setState(Listening, ReasonNone, nil)
	c.logger.Debug().Msg("Recognition session started")

	if w, ok := c.session.(io.Writer); ok && !c.preroll.IsEmpty() {
		c.do(func() {
			c.audioMu.Lock()
			defer c.audioMu.Unlock()
			if err := c.flushPreroll(w); err != nil {
				c.logger.Warn().Err(err).Msg("Pre-roll flush failed")
			}
		})
	}
	c.unlockAndRun()
}

// OnResult implements stt.Listener
func (c *Controller) OnResult(results []stt.Result) {
	c.mu.Lock()
	defer c.unlockAndRun()

	if c.ttsActive {
		c.recorder.RecordSuppressed("tts_active")
		return
	}
	if c.state != Listening || c.gate.closed() {
		c.recorder.RecordSuppressed("inactive")
		return
	}

	text := stt.LastTranscript(results)
	if text == "" || text == c.transcript.interim {
		return
	}
	if c.gate.isDuplicate(text) {
		c.recorder.RecordSuppressed("duplicate")
		c.logger.Debug().Str("text", text).Msg("Discarding repeat of delivered utterance")
		return
	}

	c.transcript.interim = text
	c.arm(&c.silence, c.opts.SilenceTimeout, func() { c.finalize(triggerSilence) })
	if !c.fallback.armed() {
		c.recorder.RecordFirstFragment()
		c.arm(&c.fallback, c.opts.FallbackTimeout, func() { c.finalize(triggerFallback) })
	}

	if fn := c.handlers.OnInterim; fn != nil {
		c.do(func() { fn(text) })
	}
}

// OnError implements stt.Listener
func (c *Controller) OnError(code stt.ErrorCode) {
	c.mu.Lock()
	defer c.unlockAndRun()

	c.recorder.RecordRecognitionError(string(code))
	if !c.listening {
		return
	}
	log := c.logger.With().Str("code", string(code)).Logger()

	switch code {
	case stt.ErrorNoSpeech, stt.ErrorAborted:
		// Left to the end path
		log.Debug().Msg("Benign recognition error")

	case stt.ErrorNotAllowed, stt.ErrorServiceNotAllowed:
		c.permissionGranted = false
		c.fail(ReasonPermissionDenied, fmt.Errorf("%w: %s", ErrPermissionDenied, code))

	case stt.ErrorNetwork, stt.ErrorAudioCapture:
		if !c.opts.Profile.LoopProne || c.retryUsed || c.state == Finalizing {
			c.fail(ReasonError, fmt.Errorf("%w: %s", ErrTransient, code))
			return
		}
		c.retryUsed = true
		c.cancelUtteranceTimers()
		c.restart.cancel()
		c.transcript.clear()
		c.stopSession()
		c.setState(Starting, ReasonNone, nil)
		c.recorder.RecordRestart("transient_error")
		log.Info().Dur("delay", c.opts.TransientRetryDelay).Msg("Retrying after transient recognition error")
		c.arm(&c.retry, c.opts.TransientRetryDelay, func() {
			if c.listening && c.state == Starting {
				c.beginSession()
			}
		})

	default:
		c.fail(ReasonError, fmt.Errorf("%w: %s", ErrRecognition, code))
	}
}

// OnEnd implements stt.Listener
func (c *Controller) OnEnd() {
	c.mu.Lock()
	defer c.unlockAndRun()

	if !c.sessionLive {
		return
	}
	expected := c.stopping
	c.sessionLive = false
	c.stopping = false

	if expected {
		if c.startAfterEnd {
			c.startAfterEnd = false
			if c.listening && c.state == Starting {
				c.beginSession()
			}
		}
		return
	}

	switch {
	case !c.listening, c.state == Stopped, c.state == Finalizing, c.gate.closed():
		return
	case c.retry.armed():
		return
	case c.ttsActive:
		c.resumePending = true
		return
	case c.state == Listening && c.transcript.interim != "":
		c.finalize(triggerSessionEnd)
		return
	}

	c.scheduleRestart("unexpected_end")
}

// onSpeech handles speech bus signals
func (c *Controller) onSpeech(kind tts.EventKind) {
	c.mu.Lock()
	defer c.unlockAndRun()

	switch kind {
	case tts.SpeechStarted:
		if c.ttsActive {
			return
		}
		c.ttsActive = true
		if !c.listening || c.state == Finalizing || c.state == Stopped {
			return
		}
		c.logger.Debug().Msg("Speech output started, pausing recognition")
		c.cancelUtteranceTimers()
		c.restart.cancel()
		c.retry.cancel()
		c.transcript.clear()
		c.preroll.Clear()
		c.stopSession()
		c.startAfterEnd = false
		c.resumePending = true
		c.setState(Starting, ReasonNone, nil)

	case tts.SpeechCompleted:
		if !c.ttsActive {
			return
		}
		c.ttsActive = false
		if c.state != Finalizing {
			c.gate.reset()
		}
		if !c.resumePending || !c.listening {
			c.resumePending = false
			return
		}
		c.resumePending = false
		delay := c.guard.delay(c.opts.Profile)
		c.logger.Debug().Dur("delay", delay).Msg("Speech output completed, resuming recognition")
		c.recorder.RecordRestart("tts_resume")
		c.arm(&c.restart, delay, func() {
			if c.listening && c.state == Starting {
				c.beginSession()
			}
		})
	}
}

// beginSession starts the recognition session, creating it on first use.
// Called locked with state Starting.
func (c *Controller) beginSession() {
	if c.ttsActive {
		c.resumePending = true
		return
	}

	if c.session == nil {
		sess, err := c.recognizer.NewSession(stt.Config{
			Continuous:      true,
			InterimResults:  true,
			Locale:          c.opts.Locale,
			MaxAlternatives: 1,
		}, c)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to create recognition session")
			c.fail(ReasonError, fmt.Errorf("%w: %v", ErrRecognition, err))
			return
		}
		c.session = sess
	}

	if c.sessionLive {
		if c.stopping {
			c.startAfterEnd = true
		}
		return
	}

	c.sessionLive = true
	c.stopping = false
	c.guard.markStart(c.clock.Now())

	sess, ctx := c.session, c.ctx
	c.do(func() {
		if err := sess.Start(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Recognition session failed to start")
		}
	})
}

// stopSession asks a live session to end. Called locked.
func (c *Controller) stopSession() {
	if !c.sessionLive || c.stopping {
		return
	}
	c.stopping = true
	sess := c.session
	c.do(func() {
		if err := sess.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to stop recognition session")
		}
	})
}

// scheduleRestart restarts after an unexpected end, unless the loop guard
// gives up. Called locked.
func (c *Controller) scheduleRestart(cause string) {
	delay, exceeded := c.guard.recordEnd(c.clock.Now(), c.opts.Profile)
	if exceeded {
		c.recorder.RecordLoopGuardTrip()
		c.logger.Warn().
			Int("rapid_ends", c.guard.rapidEnds).
			Int("max_attempts", c.opts.Profile.MaxAttempts).
			Msg("Recognition keeps ending, giving up")
		c.fail(ReasonLoopGuardExceeded, ErrLoopGuardExceeded)
		return
	}

	c.cancelUtteranceTimers()
	c.setState(Starting, ReasonNone, nil)
	c.recorder.RecordRestart(cause)
	c.logger.Info().
		Str("cause", cause).
		Int("rapid_ends", c.guard.rapidEnds).
		Dur("delay", delay).
		Msg("Restarting recognition")

	c.arm(&c.restart, delay, func() {
		if c.listening && c.state == Starting {
			c.beginSession()
		}
	})
}

// finalize moves a pending utterance to delivery. Called locked.
func (c *Controller) finalize(trigger string) {
	if c.state != Listening || c.gate.closed() || c.transcript.interim == "" {
		return
	}

	text := c.transcript.interim
	c.transcript.committed = text
	c.gate.mark(text)
	c.cancelTimers()
	c.stopSession()
	c.setState(Finalizing, ReasonNone, nil)
	c.logger.Debug().Str("trigger", trigger).Msg("Finalizing utterance")

	c.arm(&c.settle, c.opts.SettleDelay, func() { c.deliver(trigger) })
}

// deliver hands the committed utterance to the caller. Called locked.
func (c *Controller) deliver(trigger string) {
	if c.state != Finalizing {
		return
	}

	text := c.transcript.committed
	c.transcript.clear()
	c.gate.release()
	c.guard.reset()
	c.retryUsed = false
	c.recorder.RecordUtterance(trigger)

	if fn := c.handlers.OnTranscript; fn != nil && text != "" {
		c.do(func() { fn(text) })
	}

	if c.opts.Continuous && c.listening {
		c.preroll.Clear()
		c.setState(Starting, ReasonNone, nil)
		c.recorder.RecordRestart("continuous")
		c.beginSession()
		return
	}

	c.listening = false
	c.recorder.RecordListening(false)
	c.setState(Idle, ReasonNone, nil)
}

// fail stops listening and surfaces reason. Called locked.
func (c *Controller) fail(reason Reason, err error) {
	c.cancelTimers()
	c.transcript.clear()
	c.preroll.Clear()
	c.startAfterEnd = false
	c.resumePending = false
	c.stopSession()
	if c.listening {
		c.listening = false
		c.recorder.RecordListening(false)
	}
	c.logger.Warn().Err(err).Str("reason", string(reason)).Msg("Listening stopped")
	c.setState(Stopped, reason, err)
}

// setState records the new state and queues a status report when the
// visible status changed. Called locked.
func (c *Controller) setState(s State, reason Reason, err error) {
	if c.state != s {
		c.logger.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("State transition")
	}
	c.state = s

	status := Status{
		State:     s,
		Visual:    visualFor(s),
		Listening: c.listening,
		Reason:    reason,
		Err:       err,
	}
	if status.sameAs(c.lastStatus) {
		return
	}
	c.lastStatus = status
	if fn := c.handlers.OnStatus; fn != nil {
		c.do(func() { fn(status) })
	}
}

// arm (re)starts slot. The callback runs locked and only if this arming is
// still current when it fires.
func (c *Controller) arm(slot *timerSlot, d time.Duration, fn func()) {
	slot.cancel()
	c.timerSeq++
	seq := c.timerSeq
	slot.seq = seq
	slot.timer = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		if slot.seq != seq {
			c.mu.Unlock()
			return
		}
		slot.timer = nil
		slot.seq = 0
		fn()
		c.unlockAndRun()
	})
}

func (c *Controller) cancelUtteranceTimers() {
	c.silence.cancel()
	c.fallback.cancel()
}

func (c *Controller) cancelTimers() {
	c.silence.cancel()
	c.fallback.cancel()
	c.restart.cancel()
	c.retry.cancel()
	c.settle.cancel()
}

// do queues fn to run after the lock is released
func (c *Controller) do(fn func()) {
	c.effects = append(c.effects, fn)
}

// unlockAndRun releases the lock and runs the queued calls in order
func (c *Controller) unlockAndRun() {
	effects := c.effects
	c.effects = nil
	c.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}

var _ stt.Listener = (*Controller)(nil)
