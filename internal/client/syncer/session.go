package syncer

// State is a step of a sync session.
type State int

const (
	StateIdle State = iota
	StatePulling
	StateResolving
	StatePushing
	StateFailed
	StateComplete
)

var stateNames = [...]string{"idle", "pulling", "resolving", "pushing", "failed", "complete"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Session is the in-memory record of one sync run. It is never persisted.
type Session struct {
	UserID       string
	EntityType   string
	State        State
	AttemptCount int
}
