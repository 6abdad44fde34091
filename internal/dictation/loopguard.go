package dictation

import (
	"time"

	"github.com/lexiqai/dictation-gateway/internal/resilience"
)

const backoffMultiplier = 2.0

// loopGuard detects a session that ends and restarts too quickly. An end is
// rapid when the session lived less than the profile's threshold since its
// last (re)start.
type loopGuard struct {
	lastEnd     time.Time
	lastRestart time.Time
	rapidEnds   int
}

func (g *loopGuard) reset() {
	*g = loopGuard{}
}

func (g *loopGuard) markStart(now time.Time) {
	g.lastRestart = now
}

// recordEnd counts an unexpected end and returns the restart delay, or
// exceeded when consecutive rapid ends passed the profile ceiling.
func (g *loopGuard) recordEnd(now time.Time, p Profile) (delay time.Duration, exceeded bool) {
	if !g.lastRestart.IsZero() && now.Sub(g.lastRestart) < p.RapidEndThreshold {
		g.rapidEnds++
	} else {
		g.rapidEnds = 0
	}
	g.lastEnd = now

	if g.rapidEnds > p.MaxAttempts {
		return 0, true
	}
	return g.delay(p), false
}

// delay is min(base * 2^rapidEnds, max)
func (g *loopGuard) delay(p Profile) time.Duration {
	return resilience.CalculateBackoff(g.rapidEnds, p.BaseDelay, p.MaxDelay, backoffMultiplier)
}
