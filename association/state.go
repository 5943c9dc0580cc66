package association

import (
	"github.com/looplab/fsm"
)

// State is the position of an association in its lifecycle.
type State string

// Association states.
const (
	StateIdle             State = "idle"
	StateRequesting       State = "requesting"
	StateAwaitingRequest  State = "awaiting-request"
	StateEstablished      State = "established"
	StateReleaseRequested State = "release-requested"
	StateReleased         State = "released"
	StateAborted          State = "aborted"
	StateRejected         State = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateAborted || s == StateRejected
}

const (
	eventRequest   = "request"
	eventAwait     = "await"
	eventEstablish = "establish"
	eventReject    = "reject"
	eventRelease   = "release"
	eventReleased  = "released"
	eventAbort     = "abort"
)

func newStateMachine(callbacks fsm.Callbacks) *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventRequest, Src: []string{string(StateIdle)}, Dst: string(StateRequesting)},
			{Name: eventAwait, Src: []string{string(StateIdle)}, Dst: string(StateAwaitingRequest)},
			{Name: eventEstablish, Src: []string{string(StateRequesting), string(StateAwaitingRequest)}, Dst: string(StateEstablished)},
			{Name: eventReject, Src: []string{string(StateRequesting), string(StateAwaitingRequest)}, Dst: string(StateRejected)},
			{Name: eventRelease, Src: []string{string(StateEstablished)}, Dst: string(StateReleaseRequested)},
			{Name: eventReleased, Src: []string{string(StateEstablished), string(StateReleaseRequested)}, Dst: string(StateReleased)},
			{Name: eventAbort, Src: []string{
				string(StateRequesting),
				string(StateAwaitingRequest),
				string(StateEstablished),
				string(StateReleaseRequested),
			}, Dst: string(StateAborted)},
		},
		callbacks,
	)
}
