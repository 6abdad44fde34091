package dictation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/dictation-gateway/internal/config"
	"github.com/lexiqai/dictation-gateway/internal/tts"
)

// Handlers are the caller's callbacks. Any of them may be nil. They are
// invoked without the controller lock held and may call back into it.
type Handlers struct {
	OnTranscript func(text string)
	OnInterim    func(text string)
	OnStatus     func(status Status)
}

// PermissionFunc asks the user for microphone access and blocks until they
// answer. A non-nil error is treated as a refusal.
type PermissionFunc func(ctx context.Context) error

// Recorder receives controller telemetry. *observability.Metrics satisfies it.
type Recorder interface {
	RecordListening(listening bool)
	RecordFirstFragment()
	RecordUtterance(trigger string)
	RecordRestart(cause string)
	RecordLoopGuardTrip()
	RecordSuppressed(reason string)
	RecordRecognitionError(code string)
}

// Options configures a Controller
type Options struct {
	Profile Profile
	Locale  string

	// Continuous keeps listening after each delivered utterance (hands-free)
	Continuous bool

	SilenceTimeout      time.Duration
	FallbackTimeout     time.Duration
	SettleDelay         time.Duration
	TransientRetryDelay time.Duration

	// PrerollBytes bounds the audio held while a session is starting
	PrerollBytes int

	// Bus carries speech started/completed signals; nil disables the
	// self-feedback guard
	Bus *tts.Bus

	RequestPermission PermissionFunc

	Clock    Clock
	Logger   zerolog.Logger
	Recorder Recorder
}

// OptionsFromConfig builds options for a client on platform from gateway config
func OptionsFromConfig(cfg *config.Config, platform Platform) Options {
	return Options{
		Profile:             ProfileFor(platform, cfg.Profiles),
		Locale:              cfg.DeepgramLanguage,
		Continuous:          cfg.DictationContinuous,
		SilenceTimeout:      cfg.SilenceTimeout(),
		FallbackTimeout:     cfg.FallbackTimeout(),
		SettleDelay:         cfg.SettleDelay(),
		TransientRetryDelay: cfg.TransientRetryDelay(),
		PrerollBytes:        cfg.AudioBufferSize,
	}
}

func (o *Options) applyDefaults() {
	if o.Profile.Platform == "" {
		o.Profile = DefaultProfile(PlatformDesktop)
	}
	if o.SilenceTimeout <= 0 {
		o.SilenceTimeout = 1500 * time.Millisecond
	}
	if o.FallbackTimeout <= 0 {
		o.FallbackTimeout = 15 * time.Second
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.TransientRetryDelay <= 0 {
		o.TransientRetryDelay = time.Second
	}
	if o.PrerollBytes <= 0 {
		o.PrerollBytes = 64000
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordListening(bool)          {}
func (nopRecorder) RecordFirstFragment()          {}
func (nopRecorder) RecordUtterance(string)        {}
func (nopRecorder) RecordRestart(string)          {}
func (nopRecorder) RecordLoopGuardTrip()          {}
func (nopRecorder) RecordSuppressed(string)       {}
func (nopRecorder) RecordRecognitionError(string) {}
