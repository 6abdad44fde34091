package dictation

import (
	"testing"
	"time"
)

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		last     string
		expected bool
	}{
		{"nothing submitted", "hello", "", false},
		{"identical", "find the contract", "find the contract", true},
		{"trailing space", "find the contract ", "find the contract", true},
		{"revised ending", "find the contracts", "find the contract", true},
		{"punctuation added", "find the contract.", "find the contract", true},
		{"shorter revision", "find the contr", "find the contract", true},
		{"short texts compare exactly", "yes.", "yes", false},
		{"different utterance", "open the invoice", "find the contract", false},
		{"empty text", "", "find the contract", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDuplicate(tt.text, tt.last); got != tt.expected {
				t.Errorf("isDuplicate(%q, %q): expected %v, got %v", tt.text, tt.last, tt.expected, got)
			}
		})
	}
}

func TestSubmissionGate(t *testing.T) {
	var g submissionGate

	if g.closed() {
		t.Fatal("Expected a new gate to be open")
	}

	g.mark("hello world")
	if !g.closed() {
		t.Error("Expected gate to be closed while submitting")
	}

	g.release()
	if g.closed() {
		t.Error("Expected gate to reopen after release")
	}
	if !g.isDuplicate("hello world") {
		t.Error("Expected release to keep the last submitted text")
	}

	g.reset()
	if g.isDuplicate("hello world") {
		t.Error("Expected reset to forget the last submitted text")
	}
}

func TestLoopGuard(t *testing.T) {
	p := DefaultProfile(PlatformDesktop)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var g loopGuard
	g.markStart(start)

	delay, exceeded := g.recordEnd(start.Add(5*time.Second), p)
	if exceeded || delay != p.BaseDelay {
		t.Fatalf("Expected base delay for a long session, got %v (exceeded %v)", delay, exceeded)
	}

	now := start.Add(10 * time.Second)
	expected := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, want := range expected {
		g.markStart(now)
		now = now.Add(100 * time.Millisecond)
		delay, exceeded := g.recordEnd(now, p)
		if exceeded {
			t.Fatalf("Rapid end %d: expected to keep retrying", i+1)
		}
		if delay != want {
			t.Errorf("Rapid end %d: expected delay %v, got %v", i+1, want, delay)
		}
	}

	g.markStart(now)
	if _, exceeded := g.recordEnd(now.Add(100*time.Millisecond), p); !exceeded {
		t.Error("Expected the guard to give up after max attempts")
	}

	g.reset()
	if g.rapidEnds != 0 || !g.lastRestart.IsZero() {
		t.Error("Expected reset to clear the guard")
	}
}

func TestStatusVisual(t *testing.T) {
	tests := []struct {
		state    State
		expected Visual
	}{
		{Idle, VisualIdle},
		{Starting, VisualListening},
		{Listening, VisualListening},
		{Finalizing, VisualProcessing},
		{Stopped, VisualIdle},
	}
	for _, tt := range tests {
		if got := visualFor(tt.state); got != tt.expected {
			t.Errorf("%s: expected %s, got %s", tt.state, tt.expected, got)
		}
	}
}
