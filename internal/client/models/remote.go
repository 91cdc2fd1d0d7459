package models

import "time"

// PullResult is the answer to a pull-since request. ServerTime is the
// server clock the pull was served at and becomes the next cursor.
type PullResult struct {
	Records    []RemoteRecord
	ServerTime time.Time
}

type Accepted struct {
	LocalID         int64
	RemoteID        string
	RemoteUpdatedAt time.Time
}

// Rejected is a refused record. RemoteID is set when the server already
// holds the record the push tried to create.
type Rejected struct {
	LocalID         int64
	Reason          string
	RemoteID        string
	RemoteUpdatedAt time.Time
}

// PushResult reports per-record outcomes; partial success is normal.
type PushResult struct {
	Accepted []Accepted
	Rejected []Rejected
}
