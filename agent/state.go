package agent

// State is the supervisor lifecycle.
type State int

const (
	Stopped State = iota
	Starting
	Ready
	// SignInRequired means the agent runs but reported it is not signed in.
	SignInRequired
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case SignInRequired:
		return "sign-in required"
	default:
		return "unknown"
	}
}
