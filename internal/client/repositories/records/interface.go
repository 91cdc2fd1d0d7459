// Package records is the local store for synchronizable entities. One table
// per entity type holds the record columns plus the JSON payload; the same
// repository implements the change-tracking contract used by collaborators
// and the apply operations used by the sync orchestrator.
package records

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
)

// Tracker is the mutation side collaborators and the orchestrator share.
type Tracker interface {
	// MarkDirty flags the record as changed now. Idempotent.
	MarkDirty(ctx context.Context, localID int64) error

	// MarkDeleted tombstones the record; it disappears from queries but is
	// still returned by PendingChanges until the deletion is acknowledged.
	MarkDeleted(ctx context.Context, localID int64) error

	// PendingChanges returns dirty records, oldest updated_at first.
	PendingChanges(ctx context.Context) ([]models.RawRecord, error)

	// ClearDirty records an acknowledged push. pushedAt is the updated_at of
	// the snapshot that was sent: a row changed after it stays dirty but
	// still takes the new baseline. A zero pushedAt clears unconditionally.
	ClearDirty(ctx context.Context, localID int64, remoteID string, remoteUpdatedAt, pushedAt time.Time) error
}

// Repository is the full local store for one entity table.
type Repository interface {
	Tracker

	Create(ctx context.Context, payload json.RawMessage) (models.RawRecord, error)
	UpdatePayload(ctx context.Context, localID int64, payload json.RawMessage) error
	Get(ctx context.Context, localID int64) (models.RawRecord, error)
	GetByRemoteID(ctx context.Context, remoteID string) (models.RawRecord, error)

	// ListLive returns all non-tombstoned records.
	ListLive(ctx context.Context) ([]models.RawRecord, error)

	// ListNeverPushed returns live records without a remote id.
	ListNeverPushed(ctx context.Context) ([]models.RawRecord, error)

	// ApplyRemote overwrites the local row with the server copy and marks it clean.
	ApplyRemote(ctx context.Context, localID int64, remote models.RemoteRecord) error

	// InsertRemote stores a server record that has no local counterpart.
	InsertRemote(ctx context.Context, remote models.RemoteRecord) (int64, error)

	// Rebaseline links a dirty local row to its server copy without touching
	// the payload or the dirty flag.
	Rebaseline(ctx context.Context, localID int64, remoteID string, remoteUpdatedAt time.Time) error

	// Purge physically removes the row.
	Purge(ctx context.Context, localID int64) error

	// Clear removes every row of the table.
	Clear(ctx context.Context) error
}
