package dictation

import "strings"

// minFuzzyLength is the length both texts must exceed before the
// near-duplicate comparison applies
const minFuzzyLength = 5

// transcript holds the current utterance. Both projections are cleared when
// listening starts, after a hand-off and on an explicit stop.
type transcript struct {
	interim   string
	committed string
}

func (t *transcript) clear() {
	t.interim = ""
	t.committed = ""
}

// submissionGate keeps one utterance from being delivered twice
type submissionGate struct {
	submitted     bool
	submitting    bool
	lastSubmitted string
}

// closed reports whether an utterance is already in flight
func (g *submissionGate) closed() bool {
	return g.submitted || g.submitting
}

// mark records text as the utterance being delivered
func (g *submissionGate) mark(text string) {
	g.submitted = true
	g.submitting = true
	g.lastSubmitted = text
}

// release reopens the gate after delivery, keeping lastSubmitted
func (g *submissionGate) release() {
	g.submitted = false
	g.submitting = false
}

func (g *submissionGate) reset() {
	*g = submissionGate{}
}

func (g *submissionGate) isDuplicate(text string) bool {
	return isDuplicate(text, g.lastSubmitted)
}

// isDuplicate reports whether text repeats last: identical, or, when both are
// longer than minFuzzyLength, one contains the other minus its last two
// characters.
func isDuplicate(text, last string) bool {
	text = strings.TrimSpace(text)
	last = strings.TrimSpace(last)
	if text == "" || last == "" {
		return false
	}
	if text == last {
		return true
	}

	tr, lr := []rune(text), []rune(last)
	if len(tr) <= minFuzzyLength || len(lr) <= minFuzzyLength {
		return false
	}
	return strings.Contains(text, string(lr[:len(lr)-2])) ||
		strings.Contains(last, string(tr[:len(tr)-2]))
}
