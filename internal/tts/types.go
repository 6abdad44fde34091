// Package tts synthesizes assistant speech and tracks when speech is playing
// so that the dictation controller can ignore its own echo.
package tts

import "context"

// AudioChunk represents a chunk of audio data ready for streaming
type AudioChunk struct {
	Data       []byte // Raw PCM16 little-endian audio
	SampleRate int    // Sample rate in Hz (16000 for dictation clients)
	Channels   int    // Number of channels (1 for mono)
}

// AudioSink receives synthesized audio for playback
type AudioSink interface {
	WriteAudio(ctx context.Context, chunk *AudioChunk) error
}

// Player speaks text through a sink. Implementations publish SpeechStarted
// before any audio is written and SpeechCompleted once playback is over,
// including when synthesis fails.
type Player interface {
	Speak(ctx context.Context, text string, sink AudioSink) error
}
