package job

// State is a job lifecycle state. The constant values are wire names: they
// appear verbatim in REST payloads, event frames and the journal.
type State string

const (
	Initialized State = "initialized"
	Scheduled   State = "scheduled"
	Running     State = "running"
	Completed   State = "completed"
	Canceled    State = "canceled"
	Interrupted State = "interrupted"
)

// Terminal reports whether no further transition out of s is possible.
func (s State) Terminal() bool {
	switch s {
	case Completed, Canceled, Interrupted:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// States lists every lifecycle state in transition order.
func States() []State {
	return []State{Initialized, Scheduled, Running, Completed, Canceled, Interrupted}
}
