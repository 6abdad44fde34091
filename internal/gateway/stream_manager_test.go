package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/dictation-gateway/internal/config"
	"github.com/lexiqai/dictation-gateway/internal/dictation"
	"github.com/lexiqai/dictation-gateway/internal/stt/mock"
	"github.com/lexiqai/dictation-gateway/internal/tts"
)

const iPhoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

func testConfig() *config.Config {
	return &config.Config{
		DeepgramLanguage:          "en-US",
		AudioBufferSize:           6400,
		VADEnergyThreshold:        500,
		VADSilenceFrames:          25,
		DictationSilenceMs:        50,
		DictationFallbackMs:       2000,
		DictationSettleMs:         0,
		DictationTransientRetryMs: 50,
		PermissionTimeout:         2,
	}
}

// fakePlayer publishes speech events around a single fixed chunk
type fakePlayer struct {
	bus   *tts.Bus
	audio []byte
}

func (p *fakePlayer) Speak(ctx context.Context, text string, sink tts.AudioSink) error {
	p.bus.Publish(tts.SpeechStarted)
	defer p.bus.Publish(tts.SpeechCompleted)
	return sink.WriteAudio(ctx, &tts.AudioChunk{Data: p.audio, SampleRate: 16000, Channels: 1})
}

func startServer(t *testing.T, deps Deps) string {
	t.Helper()
	server := httptest.NewServer(HandleDictationWS(testConfig(), deps))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to send %s: %v", msg.Event, err)
	}
}

// readUntil reads text frames until one satisfies match, skipping binary frames
func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed before expected message: %v", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Invalid server message %q: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed before binary frame: %v", err)
		}
		if messageType == websocket.BinaryMessage {
			return data
		}
	}
}

func phase(p string) func(ServerMessage) bool {
	return func(m ServerMessage) bool {
		return m.Event == EventStatus && m.Phase == p
	}
}

func event(e string) func(ServerMessage) bool {
	return func(m ServerMessage) bool {
		return m.Event == e
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDictationWS_InitialStatus(t *testing.T) {
	rec := &mock.Recognizer{AutoStart: true, EndOnStop: true}
	conn := dial(t, startServer(t, Deps{Recognizer: rec}), nil)

	msg := readUntil(t, conn, event(EventStatus))
	if msg.State != string(dictation.VisualIdle) {
		t.Errorf("Expected initial state idle, got %s", msg.State)
	}
	if msg.Listening == nil || *msg.Listening {
		t.Errorf("Expected listening=false, got %v", msg.Listening)
	}
}

func TestDictationWS_TranscriptAfterSilence(t *testing.T) {
	rec := &mock.Recognizer{AutoStart: true, EndOnStop: true}
	conn := dial(t, startServer(t, Deps{Recognizer: rec}), nil)

	send(t, conn, ClientMessage{Event: EventToggle})
	status := readUntil(t, conn, phase("listening"))
	if status.State != string(dictation.VisualListening) {
		t.Errorf("Expected visual listening, got %s", status.State)
	}

	rec.Last().EmitInterim("hello world")

	interim := readUntil(t, conn, event(EventInterim))
	if interim.Text != "hello world" {
		t.Errorf("Expected interim 'hello world', got '%s'", interim.Text)
	}

	transcript := readUntil(t, conn, event(EventTranscript))
	if transcript.Text != "hello world" {
		t.Errorf("Expected transcript 'hello world', got '%s'", transcript.Text)
	}

	// Push-to-talk returns to idle after delivery
	readUntil(t, conn, phase("idle"))
}

func TestDictationWS_ForwardsAudio(t *testing.T) {
	rec := &mock.Recognizer{AutoStart: true, EndOnStop: true}
	conn := dial(t, startServer(t, Deps{Recognizer: rec}), nil)

	send(t, conn, ClientMessage{Event: EventStart})
	readUntil(t, conn, phase("listening"))

	frame := bytes.Repeat([]byte{0x01, 0x00}, 320)
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	session := rec.Last()
	waitFor(t, "audio at recognizer", func() bool {
		return len(session.WrittenBytes()) == len(frame)
	})
	if !bytes.Equal(session.WrittenBytes(), frame) {
		t.Error("Expected recognizer to receive the client frame unchanged")
	}
}

func TestDictationWS_VoiceActivity(t *testing.T) {
	rec := &mock.Recognizer{AutoStart: true, EndOnStop: true}
	conn := dial(t, startServer(t, Deps{Recognizer: rec}), nil)

	// 20ms of loud audio is one VAD frame
	loud := bytes.Repeat([]byte{0x10, 0x27}, 320) // 10000
	if err := conn.WriteMessage(websocket.BinaryMessage, loud); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	msg := readUntil(t, conn, event(EventVoiceActivity))
	if msg.Speaking == nil || !*msg.Speaking {
		t.Errorf("Expected speaking=true, got %v", msg.Speaking)
	}
}

func TestDictationWS_Stop(t *testing.T) {
	rec := &mock.Recognizer{AutoStart: true, EndOnStop: true}
	conn := dial(t, startServer(t, Deps{Recognizer: rec}), nil)

	send(t, conn, ClientMessage{Event: EventStart})
	readUntil(t, conn, phase("listening"))

	rec.Last().EmitInterim("never sent")
	readUntil(t, conn, event(EventInterim))

	send(t, conn, ClientMessage{Event: EventStop})
	readUntil(t, conn, phase("idle"))

	if rec.Last().Stops() == 0 {
		t.Error("Expected recognition session to be stopped")
	}

	// Nothing is delivered after an explicit stop
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if strings.Contains(string(data), `"event":"transcript"`) {
			t.Fatalf("Expected no transcript after stop, got %s", data)
		}
	}
}

func TestDictationWS_PermissionPrompt(t *testing.T) {
	tests := []struct {
		name      string
		granted   bool
		wantPhase string
		wantWhy   string
	}{
		{name: "granted", granted: true, wantPhase: "listening"},
		{name: "refused", granted: false, wantPhase: "stopped", wantWhy: string(dictation.ReasonPermissionDenied)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mock.Recognizer{AutoStart: true, EndOnStop: true}
			conn := dial(t, startServer(t, Deps{Recognizer: rec}), http.Header{"User-Agent": {iPhoneUA}})

			send(t, conn, ClientMessage{Event: EventStart})
			readUntil(t, conn, event(EventMicPermissionRequest))

			granted := tt.granted
			send(t, conn, ClientMessage{Event: EventMicPermission, Granted: &granted})

			msg := readUntil(t, conn, phase(tt.wantPhase))
			if msg.Reason != tt.wantWhy {
				t.Errorf("Expected reason '%s', got '%s'", tt.wantWhy, msg.Reason)
			}
		})
	}
}

func TestDictationWS_PlatformOverride(t *testing.T) {
	rec := &mock.Recognizer{AutoStart: true, EndOnStop: true}
	conn := dial(t, startServer(t, Deps{Recognizer: rec})+"?platform=ios", nil)

	send(t, conn, ClientMessage{Event: EventStart})
	readUntil(t, conn, event(EventMicPermissionRequest))
}

func TestDictationWS_Speak(t *testing.T) {
	rec := &mock.Recognizer{AutoStart: true, EndOnStop: true}
	audio := []byte{1, 2, 3, 4}
	deps := Deps{
		Recognizer: rec,
		NewPlayer: func(bus *tts.Bus) tts.Player {
			return &fakePlayer{bus: bus, audio: audio}
		},
	}
	conn := dial(t, startServer(t, deps), nil)

	send(t, conn, ClientMessage{Event: EventSpeak, Text: "hi there"})

	got := readBinary(t, conn)
	if !bytes.Equal(got, audio) {
		t.Errorf("Expected speech audio %v, got %v", audio, got)
	}
}

func TestDictationWS_SpeakUnavailable(t *testing.T) {
	rec := &mock.Recognizer{AutoStart: true, EndOnStop: true}
	conn := dial(t, startServer(t, Deps{Recognizer: rec}), nil)

	send(t, conn, ClientMessage{Event: EventSpeak, Text: "hi"})

	msg := readUntil(t, conn, event(EventError))
	if msg.Message == "" {
		t.Error("Expected error message for unavailable speech output")
	}
}

func TestDictationWS_ClientSpeechSuppressesListening(t *testing.T) {
	rec := &mock.Recognizer{AutoStart: true, EndOnStop: true}
	conn := dial(t, startServer(t, Deps{Recognizer: rec}), nil)

	send(t, conn, ClientMessage{Event: EventStart})
	readUntil(t, conn, phase("listening"))
	first := rec.Last()

	send(t, conn, ClientMessage{Event: EventTTSStarted})
	readUntil(t, conn, phase("starting"))
	if first.Stops() == 0 {
		t.Error("Expected recognition to stop while the client speaks")
	}

	send(t, conn, ClientMessage{Event: EventTTSCompleted})
	readUntil(t, conn, phase("listening"))
}

func TestPlatformFor(t *testing.T) {
	tests := []struct {
		name   string
		target string
		ua     string
		want   dictation.Platform
	}{
		{name: "user agent", target: "/streams/dictation", ua: iPhoneUA, want: dictation.PlatformIOS},
		{name: "query wins", target: "/streams/dictation?platform=android", ua: iPhoneUA, want: dictation.PlatformAndroid},
		{name: "unknown query ignored", target: "/streams/dictation?platform=tv", ua: "", want: dictation.PlatformDesktop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			r.Header.Set("User-Agent", tt.ua)
			if got := platformFor(r); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
