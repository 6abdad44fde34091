package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Number of consecutive silence frames to mark as end of speech
	FrameSize       int     // Number of samples per frame
}

// DefaultVADConfig returns a default VAD configuration for 16kHz client audio
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   25,  // 500ms of silence (25 frames * 20ms)
		FrameSize:       320, // 20ms at 16kHz
	}
}

// VADEvent is a speech boundary found while processing a stream
type VADEvent int

const (
	VADSpeechStarted VADEvent = iota + 1
	VADSpeechEnded
)

// VADDetector performs energy-based Voice Activity Detection. It drives the
// client's level indicator only; utterance boundaries come from the
// recognition engine and the dictation timers.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
	pending        []byte // partial frame carried between ProcessPCM calls
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	if config.FrameSize <= 0 {
		config.FrameSize = DefaultVADConfig().FrameSize
	}
	return &VADDetector{config: config}
}

// ProcessFrame processes an audio frame and returns whether speech is detected
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// ProcessPCM splits a little-endian PCM16 chunk into frames, carrying any
// remainder into the next call, and returns the boundary events in order.
func (v *VADDetector) ProcessPCM(data []byte) []VADEvent {
	frameBytes := v.config.FrameSize * 2
	buf := data
	if len(v.pending) > 0 {
		buf = append(v.pending, data...)
		v.pending = nil
	}

	var events []VADEvent
	for len(buf) >= frameBytes {
		_, started, ended := v.ProcessFrame(BytesToSamples(buf[:frameBytes]))
		if started {
			events = append(events, VADSpeechStarted)
		}
		if ended {
			events = append(events, VADSpeechEnded)
		}
		buf = buf[frameBytes:]
	}

	if len(buf) > 0 {
		v.pending = append([]byte(nil), buf...)
	}
	return events
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
	v.pending = nil
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
