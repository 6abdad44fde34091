package dictation

import "time"

// Timer is a pending clock callback
type Timer interface {
	Stop() bool
}

// Clock schedules the controller's timers. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// timerSlot holds one named timer. seq identifies the arming that is current;
// a callback whose token no longer matches was cancelled or superseded.
type timerSlot struct {
	name  string
	timer Timer
	seq   uint64
}

func (s *timerSlot) armed() bool {
	return s.timer != nil
}

func (s *timerSlot) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq = 0
}
