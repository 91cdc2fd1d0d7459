// Package models defines the client-side sync data model: the generic
// syncable record, its payload codec, and the cursor and remote result types
// exchanged with the orchestrator.
package models

import (
	"encoding/json"
	"time"
)

// SyncableRecord is one row of a synchronizable entity table.
type SyncableRecord[P any] struct {
	// LocalID is assigned by the store on creation and never reused.
	LocalID int64

	// RemoteID is assigned by the backend on first push; "" means never pushed.
	RemoteID string

	Payload P

	// UpdatedAt is set on every local mutation from a monotonic clock.
	UpdatedAt time.Time

	// RemoteUpdatedAt is the last known server timestamp, the conflict baseline.
	RemoteUpdatedAt time.Time

	Dirty   bool
	Deleted bool
}

// NeverPushed reports whether the backend has never acknowledged this record.
func (r SyncableRecord[P]) NeverPushed() bool {
	return r.RemoteID == ""
}

// RawRecord is the payload-agnostic form the engine works with.
type RawRecord = SyncableRecord[json.RawMessage]

// Codec converts a typed payload to and from its stored JSON form.
// NaturalKey identifies a payload without a remote id, so a record created
// offline can be matched to the same record created on another device.
// An empty key disables natural-key matching for that payload.
type Codec[P any] interface {
	Encode(P) (json.RawMessage, error)
	Decode(json.RawMessage) (P, error)
	NaturalKey(P) string
}

// DecodeRecord lifts a RawRecord into its typed form.
func DecodeRecord[P any](c Codec[P], r RawRecord) (SyncableRecord[P], error) {
	p, err := c.Decode(r.Payload)
	if err != nil {
		return SyncableRecord[P]{}, err
	}
	return SyncableRecord[P]{
		LocalID:         r.LocalID,
		RemoteID:        r.RemoteID,
		Payload:         p,
		UpdatedAt:       r.UpdatedAt,
		RemoteUpdatedAt: r.RemoteUpdatedAt,
		Dirty:           r.Dirty,
		Deleted:         r.Deleted,
	}, nil
}

// RawKey adapts a codec's natural key to raw payloads. Payloads that do not
// decode have no key.
func RawKey[P any](c Codec[P]) func(json.RawMessage) string {
	return func(raw json.RawMessage) string {
		p, err := c.Decode(raw)
		if err != nil {
			return ""
		}
		return c.NaturalKey(p)
	}
}

// RemoteRecord is the server's copy of a record as returned by a pull.
type RemoteRecord struct {
	RemoteID  string
	Payload   json.RawMessage
	UpdatedAt time.Time
	Deleted   bool
}

// SyncCursor is the incremental pull watermark for one user and entity type.
type SyncCursor struct {
	UserID       string
	EntityType   string
	LastSyncedAt time.Time
}
