package lifecycle

import "fmt"

// State is the lifecycle state of one item's resource.
type State string

const (
	StateAbsent  State = "absent"
	StateOpening State = "opening"
	StateOpen    State = "open"
	StateClosing State = "closing"
)

// transitions lists every legal edge of the state machine. Anything not
// listed here is a bug in the controller.
var transitions = map[State][]State{
	StateAbsent:  {StateOpening},
	StateOpening: {StateOpen, StateClosing, StateAbsent},
	StateOpen:    {StateClosing},
	StateClosing: {StateAbsent},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// record tracks one id. A record exists only while the id is not Absent.
type record struct {
	state  State
	url    string
	ticket string
	handle handleRef

	// opened is closed when the backend open returns; err holds its error.
	opened chan struct{}
	err    error
	// gone is closed when the record is removed.
	gone chan struct{}
}

func (r *record) moveTo(to State) {
	if !CanTransition(r.state, to) {
		panic(fmt.Sprintf("lifecycle: illegal transition %s -> %s (ticket %s)", r.state, to, r.ticket))
	}
	r.state = to
}
