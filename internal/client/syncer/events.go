package syncer

import "time"

type EventKind int

const (
	EventStarted EventKind = iota
	EventCompleted
	EventFailed
	EventAuthFailed
	EventStorageCorrupt
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventAuthFailed:
		return "auth_failed"
	case EventStorageCorrupt:
		return "storage_corrupt"
	}
	return "unknown"
}

// Stats counts what one session did.
type Stats struct {
	Pulled   int
	Inserted int
	Adopted  int
	Rebased  int
	Pushed   int
	Rejected int
	Purged   int
	// Merged counts unacknowledged creates folded into their pulled copy.
	Merged int
}

type Event struct {
	Kind       EventKind
	UserID     string
	EntityType string
	Attempt    int
	Stats      Stats
	Err        error
	// Retrying is set on EventFailed when a backoff retry is scheduled.
	Retrying bool
	At       time.Time
}
