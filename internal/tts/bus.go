package tts

import "sync"

// EventKind is a speech lifecycle signal
type EventKind int

const (
	SpeechStarted EventKind = iota + 1
	SpeechCompleted
)

func (k EventKind) String() string {
	switch k {
	case SpeechStarted:
		return "speech_started"
	case SpeechCompleted:
		return "speech_completed"
	default:
		return "unknown"
	}
}

// Bus fans speech signals out to subscribers. One bus is shared by everything
// that can make sound or listen on a single client connection.
//
// Playbacks may overlap. The bus counts them and forwards SpeechStarted when
// the first one begins and SpeechCompleted when the last one ends, so
// subscribers see a single active span.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]func(EventKind)
	nextID  int
	playing int
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(EventKind))}
}

// Subscribe registers fn and returns a function that removes it
func (b *Bus) Subscribe(fn func(EventKind)) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish records kind and delivers the resulting transition to every
// subscriber. A completion with nothing playing is dropped. Subscribers are
// called outside the bus lock and may publish or subscribe themselves.
func (b *Bus) Publish(kind EventKind) {
	b.mu.Lock()
	forward := false
	switch kind {
	case SpeechStarted:
		b.playing++
		forward = b.playing == 1
	case SpeechCompleted:
		if b.playing > 0 {
			b.playing--
			forward = b.playing == 0
		}
	}
	if !forward {
		b.mu.Unlock()
		return
	}
	fns := make([]func(EventKind), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(kind)
	}
}

// Active reports whether speech is currently playing
func (b *Bus) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing > 0
}
