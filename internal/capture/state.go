package capture

import "time"

// State is the lifecycle position of a capture session.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateRecording
	StateFinalizing
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Busy reports whether a session in this state holds the devices.
func (s State) Busy() bool {
	return s == StatePreparing || s == StateRecording || s == StateFinalizing
}

// StopReason names what ended a recording.
type StopReason string

const (
	StopRequested  StopReason = "stop"
	StopTimer      StopReason = "timer"
	StopTrackEnded StopReason = "track-ended"
)

// Transition is published to subscribers on every state change.
type Transition struct {
	SessionID string
	From      State
	To        State
	Reason    string
	At        time.Time
}

func statusText(state State, err *Error) string {
	switch state {
	case StatePreparing:
		return "preparing"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "processing"
	case StateReady:
		return "ready"
	case StateError:
		if err != nil {
			return err.Kind.Message()
		}
		return KindEncodingFailure.Message()
	default:
		return "idle"
	}
}
