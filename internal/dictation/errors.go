package dictation

import "errors"

var (
	// ErrPermissionDenied means the microphone or recognition service was refused
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrLoopGuardExceeded means the recognition session kept ending too quickly
	ErrLoopGuardExceeded = errors.New("recognition restarted too frequently")

	// ErrTransient wraps network and audio-capture failures that were not retried
	ErrTransient = errors.New("transient recognition failure")

	// ErrRecognition wraps any other recognition error
	ErrRecognition = errors.New("recognition failed")

	// ErrNoRecognizer is returned by New when no recognizer is supplied
	ErrNoRecognizer = errors.New("dictation controller requires a recognizer")

	// ErrClosed is returned by Start after Close
	ErrClosed = errors.New("dictation controller is closed")
)
