// Package mock provides test doubles for the stt package interfaces.
//
// Use Recognizer to capture the Config a caller requests and the Session it
// is handed. Drive the session's listener with the Emit helpers to simulate
// the recognition engine:
//
//	rec := &mock.Recognizer{}
//	ctrl := dictation.New(rec, opts, handlers)
//	ctrl.Start()
//	sess := rec.Last()
//	sess.EmitStart()
//	sess.EmitInterim("hello wor")
//	sess.EmitFinal("hello world")
package mock

import (
	"context"
	"sync"

	"github.com/lexiqai/dictation-gateway/internal/stt"
)

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// NewSessionErr, if non-nil, is returned by NewSession.
	NewSessionErr error

	// AutoStart and EndOnStop are copied onto every Session created.
	AutoStart bool
	EndOnStop bool

	// Configs records the Config passed to every NewSession call.
	Configs []stt.Config

	// Sessions records every Session created, in order.
	Sessions []*Session
}

// NewSession records the call and returns a fresh Session bound to listener.
func (r *Recognizer) NewSession(cfg stt.Config, listener stt.Listener) (stt.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Configs = append(r.Configs, cfg)
	if r.NewSessionErr != nil {
		return nil, r.NewSessionErr
	}
	s := &Session{
		Listener:  listener,
		AutoStart: r.AutoStart,
		EndOnStop: r.EndOnStop,
	}
	r.Sessions = append(r.Sessions, s)
	return s, nil
}

// Last returns the most recently created Session, or nil.
func (r *Recognizer) Last() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Sessions) == 0 {
		return nil
	}
	return r.Sessions[len(r.Sessions)-1]
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)

// Session is a mock implementation of stt.Session. It never emits events on
// its own unless AutoStart or EndOnStop is set.
type Session struct {
	mu sync.Mutex

	// Listener receives the events emitted by the Emit helpers.
	Listener stt.Listener

	// AutoStart emits OnStart from inside a successful Start.
	AutoStart bool

	// EndOnStop emits OnEnd from inside Stop.
	EndOnStop bool

	// StartErr, if non-nil, is returned by Start after reporting OnError
	// with its code and OnEnd, the way a real session reports a failed start.
	StartErr error

	// WriteErr, if non-nil, is returned by Write.
	WriteErr error

	// --- Call records ---

	// StartCount is the number of times Start was called.
	StartCount int

	// StopCount is the number of times Stop was called.
	StopCount int

	// Written is every audio chunk passed to Write, copied.
	Written [][]byte
}

// Start records the call and returns StartErr.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	s.StartCount++
	err := s.StartErr
	auto := s.AutoStart
	s.mu.Unlock()

	if err != nil {
		s.EmitError(stt.CodeOf(err))
		s.EmitEnd()
		return err
	}
	if auto {
		s.EmitStart()
	}
	return nil
}

// Stop records the call and returns nil.
func (s *Session) Stop() error {
	s.mu.Lock()
	s.StopCount++
	end := s.EndOnStop
	s.mu.Unlock()

	if end {
		s.EmitEnd()
	}
	return nil
}

// Write records a copy of p.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	s.Written = append(s.Written, cp)
	return len(p), nil
}

// Starts returns StartCount. Thread-safe.
func (s *Session) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartCount
}

// Stops returns StopCount. Thread-safe.
func (s *Session) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCount
}

// WrittenBytes returns all recorded audio concatenated. Thread-safe.
func (s *Session) WrittenBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, chunk := range s.Written {
		out = append(out, chunk...)
	}
	return out
}

// EmitStart delivers OnStart.
func (s *Session) EmitStart() { s.Listener.OnStart() }

// EmitEnd delivers OnEnd.
func (s *Session) EmitEnd() { s.Listener.OnEnd() }

// EmitError delivers OnError with code.
func (s *Session) EmitError(code stt.ErrorCode) { s.Listener.OnError(code) }

// EmitResults delivers OnResult with results as given.
func (s *Session) EmitResults(results ...stt.Result) { s.Listener.OnResult(results) }

// EmitInterim delivers a single non-final result carrying text.
func (s *Session) EmitInterim(text string) {
	s.EmitResults(Result(text, false))
}

// EmitFinal delivers a single final result carrying text.
func (s *Session) EmitFinal(text string) {
	s.EmitResults(Result(text, true))
}

// Result builds a one-alternative result.
func Result(text string, final bool) stt.Result {
	return stt.Result{
		Alternatives: []stt.Alternative{{Transcript: text, Confidence: 0.9}},
		IsFinal:      final,
	}
}

// Ensure Session implements stt.Session at compile time.
var _ stt.Session = (*Session)(nil)
