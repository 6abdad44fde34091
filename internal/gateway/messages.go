package gateway

import "github.com/lexiqai/dictation-gateway/internal/dictation"

// Client → server events
const (
	EventToggle        = "toggle"
	EventStart         = "start"
	EventStop          = "stop"
	EventSpeak         = "speak"
	EventTTSStarted    = "tts_started"
	EventTTSCompleted  = "tts_completed"
	EventMicPermission = "mic_permission"
)

// Server → client events
const (
	EventStatus               = "status"
	EventInterim              = "interim"
	EventTranscript           = "transcript"
	EventVoiceActivity        = "voice_activity"
	EventMicPermissionRequest = "mic_permission_request"
	EventError                = "error"
)

// ClientMessage is a JSON text frame sent by the client. Audio travels in
// binary frames as PCM16 little-endian mono at 16kHz.
type ClientMessage struct {
	Event   string `json:"event"`
	Text    string `json:"text,omitempty"`
	Granted *bool  `json:"granted,omitempty"`
}

// ServerMessage is a JSON text frame sent to the client. Synthesized speech
// travels in binary frames in the same format as client audio.
type ServerMessage struct {
	Event     string `json:"event"`
	State     string `json:"state,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Listening *bool  `json:"listening,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Text      string `json:"text,omitempty"`
	Speaking  *bool  `json:"speaking,omitempty"`
	Message   string `json:"message,omitempty"`
}

func statusMessage(s dictation.Status) ServerMessage {
	listening := s.Listening
	return ServerMessage{
		Event:     EventStatus,
		State:     string(s.Visual),
		Phase:     s.State.String(),
		Listening: &listening,
		Reason:    string(s.Reason),
	}
}

func voiceActivityMessage(speaking bool) ServerMessage {
	return ServerMessage{Event: EventVoiceActivity, Speaking: &speaking}
}
