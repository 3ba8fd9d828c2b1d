package esp

import "sync/atomic"

// State is the connection state of a Device.
type State uint32

const (
	// Disconnected: the module is idle and not associated with an access point.
	Disconnected State = iota
	// Resetting: a hard or soft reset is in progress.
	Resetting
	// Associating: the module is joining an access point.
	Associating
	// Connected: associated with an access point, optionally with one open client connection.
	Connected
	// Listening: a TCP server is open on the module.
	Listening
	// Closed: the Device has been closed and cannot be used.
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Resetting:
		return "resetting"
	case Associating:
		return "associating"
	case Connected:
		return "connected"
	case Listening:
		return "listening"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateHolder stores the State atomically so status readers never contend
// with the goroutine driving the Device.
type stateHolder struct {
	v atomic.Uint32
}

func (h *stateHolder) load() State {
	return State(h.v.Load())
}

func (h *stateHolder) store(s State) {
	h.v.Store(uint32(s))
}

// is reports whether the current state is one of states.
func (h *stateHolder) is(states ...State) bool {
	cur := h.load()
	for _, s := range states {
		if cur == s {
			return true
		}
	}
	return false
}
