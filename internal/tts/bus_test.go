package tts

import (
	"testing"
)

func TestBus_PublishAndActive(t *testing.T) {
	bus := NewBus()

	var got []EventKind
	bus.Subscribe(func(k EventKind) { got = append(got, k) })

	if bus.Active() {
		t.Fatal("Expected new bus to be inactive")
	}

	bus.Publish(SpeechStarted)
	if !bus.Active() {
		t.Error("Expected bus to be active after SpeechStarted")
	}

	bus.Publish(SpeechCompleted)
	if bus.Active() {
		t.Error("Expected bus to be inactive after SpeechCompleted")
	}

	if len(got) != 2 || got[0] != SpeechStarted || got[1] != SpeechCompleted {
		t.Errorf("Expected [started completed], got %v", got)
	}
}

func TestBus_Cancel(t *testing.T) {
	bus := NewBus()

	count := 0
	cancel := bus.Subscribe(func(EventKind) { count++ })

	bus.Publish(SpeechStarted)
	cancel()
	cancel()
	bus.Publish(SpeechCompleted)

	if count != 1 {
		t.Errorf("Expected 1 delivery before cancel, got %d", count)
	}
}

func TestBus_ReentrantSubscriber(t *testing.T) {
	bus := NewBus()

	var nested int
	bus.Subscribe(func(k EventKind) {
		if k == SpeechStarted {
			// Publishing from inside a subscriber must not deadlock
			bus.Publish(SpeechCompleted)
		}
		if k == SpeechCompleted {
			nested++
		}
	})

	bus.Publish(SpeechStarted)

	if nested != 1 {
		t.Errorf("Expected nested completion to be delivered once, got %d", nested)
	}
	if bus.Active() {
		t.Error("Expected bus to be inactive after nested completion")
	}
}

func TestEventKind_String(t *testing.T) {
	tests := []struct {
		kind     EventKind
		expected string
	}{
		{SpeechStarted, "speech_started"},
		{SpeechCompleted, "speech_completed"},
		{EventKind(0), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, got)
		}
	}
}

func TestBus_OverlappingPlayback(t *testing.T) {
	bus := NewBus()

	var got []EventKind
	bus.Subscribe(func(k EventKind) { got = append(got, k) })

	bus.Publish(SpeechStarted)
	bus.Publish(SpeechStarted)
	bus.Publish(SpeechCompleted)

	if !bus.Active() {
		t.Error("Expected bus to stay active while the second playback runs")
	}
	if len(got) != 1 || got[0] != SpeechStarted {
		t.Errorf("Expected only the first start to be delivered, got %v", got)
	}

	bus.Publish(SpeechCompleted)
	if bus.Active() {
		t.Error("Expected bus to be inactive after the last playback completed")
	}
	if len(got) != 2 || got[1] != SpeechCompleted {
		t.Errorf("Expected [started completed], got %v", got)
	}
}

func TestBus_CompletionWithoutStart(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.Subscribe(func(EventKind) { count++ })

	bus.Publish(SpeechCompleted)
	bus.Publish(SpeechStarted)

	if !bus.Active() {
		t.Error("Expected a stray completion not to cancel a later start")
	}
	if count != 1 {
		t.Errorf("Expected only the start to be delivered, got %d deliveries", count)
	}
}
