// pkg/engine/state.go
package engine

// State is the lifecycle position of one install or uninstall.
type State int

const (
	StateNotStarted State = iota
	StateResolving
	StateFound
	StateDownloading
	StateInstalling
	StateUninstalling
	StateVerifying
	StateComplete
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateResolving:
		return "Resolving"
	case StateFound:
		return "Found"
	case StateDownloading:
		return "Downloading"
	case StateInstalling:
		return "Installing"
	case StateUninstalling:
		return "Uninstalling"
	case StateVerifying:
		return "Verifying"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a sink.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

func (s State) rank() int {
	switch s {
	case StateNotStarted:
		return 0
	case StateResolving:
		return 1
	case StateFound:
		return 2
	case StateDownloading:
		return 3
	case StateInstalling, StateUninstalling:
		return 4
	case StateVerifying:
		return 5
	default:
		return 6
	}
}

// CanTransition reports whether from may move to to. States only move
// forward; Installing and Uninstalling exclude each other; terminal states
// never change, and any non-terminal state may end.
func CanTransition(from, to State) bool {
	if from.Terminal() || from == to {
		return false
	}
	if to.Terminal() {
		return true
	}
	if (from == StateInstalling && to == StateUninstalling) || (from == StateUninstalling && to == StateInstalling) {
		return false
	}
	if to == StateVerifying && from != StateUninstalling && from != StateFound && from != StateResolving {
		return false
	}
	return to.rank() > from.rank()
}
