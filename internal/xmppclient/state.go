package xmppclient

// State is a step in the client's connection lifecycle (spec.md §4.2).
type State int

const (
	Idle State = iota
	Connecting
	Authenticating
	Bound
	Online
	Offline
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Bound:
		return "bound"
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}
