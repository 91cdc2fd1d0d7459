// Package records stores the server copy of every synced record.
package records

import (
	"context"

	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

type Repository interface {
	// SelectSince returns the user's records of entityType with
	// since < updated_at <= upTo, oldest first.
	SelectSince(ctx context.Context, userID, entityType string, since, upTo int64) ([]models.SyncRecord, error)

	Get(ctx context.Context, userID, entityType, id string) (*models.SyncRecord, error)

	// GetByOrigin finds the record a device created from its local id.
	GetByOrigin(ctx context.Context, userID, entityType, origin string) (*models.SyncRecord, error)

	// Insert stores a new record; rec.ID must be set by the caller.
	Insert(ctx context.Context, rec *models.SyncRecord) error

	// Update overwrites payload, deleted and updated_at of an existing record.
	Update(ctx context.Context, rec *models.SyncRecord) error
}
