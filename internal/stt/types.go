// Package stt defines the recognition session contract used by the dictation
// controller and a Deepgram-backed implementation of it.
//
// A Session behaves like a browser speech-recognition handle: it is started
// and stopped by its owner and reports back through a Listener with start,
// result, error and end events. Result events are cumulative: each one carries
// the full result list so far and supersedes the previous one.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Config configures a recognition session
type Config struct {
	// Continuous keeps the session open across pauses instead of ending after
	// the first final result.
	Continuous bool

	// InterimResults enables best-effort results before a segment is final.
	InterimResults bool

	// Locale is the BCP-47 language tag, e.g. "en-US".
	Locale string

	// MaxAlternatives is the number of alternatives requested per result.
	MaxAlternatives int
}

// Alternative is one recognition hypothesis
type Alternative struct {
	Transcript string
	Confidence float64
}

// Result is one entry in a session's result list
type Result struct {
	Alternatives []Alternative
	IsFinal      bool
}

// ErrorCode classifies a recognition error event
type ErrorCode string

const (
	ErrorNetwork              ErrorCode = "network"
	ErrorAudioCapture         ErrorCode = "audio-capture"
	ErrorNotAllowed           ErrorCode = "not-allowed"
	ErrorServiceNotAllowed    ErrorCode = "service-not-allowed"
	ErrorNoSpeech             ErrorCode = "no-speech"
	ErrorAborted              ErrorCode = "aborted"
	ErrorLanguageNotSupported ErrorCode = "language-not-supported"
	ErrorBadGrammar           ErrorCode = "bad-grammar"
)

// Error carries an ErrorCode through Go error chains
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("recognition error: %s", e.Code)
	}
	return fmt.Sprintf("recognition error: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err, defaulting to ErrorNetwork for
// failures that carry no code (dial errors, timeouts).
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.Canceled) {
		return ErrorAborted
	}
	return ErrorNetwork
}

// Listener receives session events. Implementations must tolerate events
// arriving on any goroutine, including from inside Start and Stop.
type Listener interface {
	OnStart()
	OnResult(results []Result)
	OnError(code ErrorCode)
	OnEnd()
}

// Session is a live recognition handle.
//
// Start begins recognition; a successful start is reported through
// Listener.OnStart, a failed one through OnError followed by OnEnd, in which
// case Start may also return the error. Stop asks the engine to finish; the
// session reports OnEnd once it has. Both are safe to call repeatedly.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
}

// Recognizer creates sessions bound to a listener
type Recognizer interface {
	NewSession(cfg Config, listener Listener) (Session, error)
}

// LastTranscript returns the trimmed first alternative of the last result.
// Result lists are cumulative, so only the most recent entry is current.
func LastTranscript(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	last := results[len(results)-1]
	if len(last.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(last.Alternatives[0].Transcript)
}
