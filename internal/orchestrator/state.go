package orchestrator

// State is the orchestrator's current phase. There is exactly one
// authoritative copy, owned by the orchestrator; transitions are the only
// writer.
type State int

const (
	StateInit State = iota
	StateAcquiringFix
	StateIdle
	StateRefreshingEphemeris
	StateAttachStep1
	StateAttachStep2
	StateSendingData
	StateRecovering
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAcquiringFix:
		return "acquiring-fix"
	case StateIdle:
		return "idle"
	case StateRefreshingEphemeris:
		return "refreshing-ephemeris"
	case StateAttachStep1:
		return "attach-step1"
	case StateAttachStep2:
		return "attach-step2"
	case StateSendingData:
		return "sending-data"
	case StateRecovering:
		return "recovering"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
