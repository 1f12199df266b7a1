package authhttp

import "net/http"

// State is the position of a single request in the recovery cycle.
type State int

const (
	StateInitial State = iota
	StatePending
	StateReissuing
	StateReplaying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StatePending:
		return "pending"
	case StateReissuing:
		return "reissuing"
	case StateReplaying:
		return "replaying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Observer receives every state transition of every authenticated request.
// It is called synchronously on the request goroutine and must not block.
type Observer func(req *http.Request, from, to State)
