package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/records"
	"github.com/dmitrijs2005/ledgersync/internal/common"
)

// RepoProvider vends the repository of one entity table.
// *records.Store satisfies it.
type RepoProvider interface {
	EntityType() string
	Repo() records.Repository
}

// Collection is the query and mutation surface collaborators use for one
// entity type. Mutations only flag records dirty; syncing is left to the
// engine.
type Collection[P any] struct {
	store    RepoProvider
	codec    models.Codec[P]
	validate func(P) error
}

func NewCollection[P any](store RepoProvider, codec models.Codec[P], validate func(P) error) *Collection[P] {
	return &Collection[P]{store: store, codec: codec, validate: validate}
}

// NewCategories is the collection of spending categories.
func NewCategories(store RepoProvider) *Collection[models.Category] {
	return NewCollection(store, models.CategoryCodec, models.Category.Validate)
}

func (c *Collection[P]) EntityType() string {
	return c.store.EntityType()
}

// Query returns live records in local id order. Tombstones are never
// returned.
func (c *Collection[P]) Query(ctx context.Context) ([]models.SyncableRecord[P], error) {
	raws, err := c.store.Repo().ListLive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.SyncableRecord[P], 0, len(raws))
	for _, r := range raws {
		rec, err := models.DecodeRecord(c.codec, r)
		if err != nil {
			return nil, fmt.Errorf("decode %s %d: %w", c.EntityType(), r.LocalID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get returns a live record; tombstones are reported as common.ErrorNotFound.
func (c *Collection[P]) Get(ctx context.Context, localID int64) (models.SyncableRecord[P], error) {
	raw, err := c.store.Repo().Get(ctx, localID)
	if err != nil {
		return models.SyncableRecord[P]{}, err
	}
	if raw.Deleted {
		return models.SyncableRecord[P]{}, common.ErrorNotFound
	}
	return models.DecodeRecord(c.codec, raw)
}

// Find returns the first live record whose natural key equals key's.
func (c *Collection[P]) Find(ctx context.Context, key P) (models.SyncableRecord[P], error) {
	want := c.codec.NaturalKey(key)
	recs, err := c.Query(ctx)
	if err != nil {
		return models.SyncableRecord[P]{}, err
	}
	for _, r := range recs {
		if want != "" && c.codec.NaturalKey(r.Payload) == want {
			return r, nil
		}
	}
	return models.SyncableRecord[P]{}, common.ErrorNotFound
}

func (c *Collection[P]) Create(ctx context.Context, p P) (models.SyncableRecord[P], error) {
	if err := c.check(p); err != nil {
		return models.SyncableRecord[P]{}, err
	}
	raw, err := c.codec.Encode(p)
	if err != nil {
		return models.SyncableRecord[P]{}, err
	}
	rec, err := c.store.Repo().Create(ctx, raw)
	if err != nil {
		return models.SyncableRecord[P]{}, err
	}
	return models.DecodeRecord(c.codec, rec)
}

// Update replaces the payload of a live record.
func (c *Collection[P]) Update(ctx context.Context, localID int64, p P) error {
	if err := c.check(p); err != nil {
		return err
	}
	if _, err := c.Get(ctx, localID); err != nil {
		return err
	}
	raw, err := c.codec.Encode(p)
	if err != nil {
		return err
	}
	return c.store.Repo().UpdatePayload(ctx, localID, raw)
}

// Delete tombstones a live record.
func (c *Collection[P]) Delete(ctx context.Context, localID int64) error {
	if _, err := c.Get(ctx, localID); err != nil {
		return err
	}
	return c.store.Repo().MarkDeleted(ctx, localID)
}

// Pending counts records waiting to be pushed, tombstones included.
func (c *Collection[P]) Pending(ctx context.Context) (int, error) {
	recs, err := c.store.Repo().PendingChanges(ctx)
	return len(recs), err
}

func (c *Collection[P]) check(p P) error {
	if c.validate == nil {
		return nil
	}
	if err := c.validate(p); err != nil {
		return fmt.Errorf("%w: %w", common.ErrorValidation, err)
	}
	return nil
}
