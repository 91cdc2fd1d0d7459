package models

import (
	"encoding/json"
	"time"
)

// SyncRecord is one stored record of a user's entity type.
type SyncRecord struct {
	ID         string
	UserID     string
	EntityType string
	// Origin is "device_id/local_id" of the creating client; it makes a
	// repeated create (after a lost response) land on the same row.
	Origin    string
	Payload   json.RawMessage
	UpdatedAt int64
	Deleted   bool
	CreatedAt time.Time
}

// PushItem is one record offered by a client.
type PushItem struct {
	LocalID       int64
	RemoteID      string
	Payload       json.RawMessage
	BaseUpdatedAt int64
	Deleted       bool
}

type Accepted struct {
	LocalID   int64
	RemoteID  string
	UpdatedAt int64
}

type Rejected struct {
	LocalID   int64
	Reason    string
	RemoteID  string
	UpdatedAt int64
}

type PushOutcome struct {
	Accepted []Accepted
	Rejected []Rejected
}

// PullBatch is what a pull returns: records changed after the cursor, and
// the clock value the read was consistent with.
type PullBatch struct {
	Records    []SyncRecord
	ServerTime int64
}
