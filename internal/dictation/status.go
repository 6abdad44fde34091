package dictation

// State is the controller's lifecycle state
type State int

const (
	Idle State = iota
	Starting
	Listening
	Finalizing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Finalizing:
		return "finalizing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Visual is the mic-button state shown to the user
type Visual string

const (
	VisualIdle       Visual = "idle"
	VisualListening  Visual = "listening"
	VisualProcessing Visual = "processing"
)

// Reason explains why listening stopped on its own
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonPermissionDenied  Reason = "permission-denied"
	ReasonLoopGuardExceeded Reason = "loop-guard-exceeded"
	ReasonError             Reason = "error"
)

// Status is reported to the caller on every visible change
type Status struct {
	State     State
	Visual    Visual
	Listening bool
	Reason    Reason
	Err       error
}

func visualFor(s State) Visual {
	switch s {
	case Starting, Listening:
		return VisualListening
	case Finalizing:
		return VisualProcessing
	default:
		return VisualIdle
	}
}

func (s Status) sameAs(o Status) bool {
	return s.State == o.State && s.Listening == o.Listening && s.Reason == o.Reason
}
