package metadata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/timex"
)

// CursorKey is the cache key of the cursor for userID and entityType.
func CursorKey(userID, entityType string) string {
	return cursorPrefix + userID + ":" + entityType
}

// Cursors reads and advances sync cursors stored in a Repository.
// Values are unix microseconds in decimal.
type Cursors struct {
	repo Repository
}

func NewCursors(repo Repository) *Cursors {
	return &Cursors{repo: repo}
}

// Get returns the stored cursor; a missing cursor has a zero LastSyncedAt.
func (c *Cursors) Get(ctx context.Context, userID, entityType string) (models.SyncCursor, error) {
	cur := models.SyncCursor{UserID: userID, EntityType: entityType}

	raw, err := c.repo.Get(ctx, CursorKey(userID, entityType))
	if err != nil {
		return cur, err
	}
	if raw == nil {
		return cur, nil
	}
	us, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return cur, fmt.Errorf("corrupt cursor %s: %w", CursorKey(userID, entityType), err)
	}
	cur.LastSyncedAt = timex.FromMicros(us)
	return cur, nil
}

// Advance stores to as the new cursor unless the stored one is already at or
// past it. It returns the cursor in effect afterwards.
func (c *Cursors) Advance(ctx context.Context, userID, entityType string, to time.Time) (models.SyncCursor, error) {
	cur, err := c.Get(ctx, userID, entityType)
	if err != nil {
		return cur, err
	}
	if !to.After(cur.LastSyncedAt) {
		return cur, nil
	}
	key := CursorKey(userID, entityType)
	if err := c.repo.Set(ctx, key, []byte(strconv.FormatInt(timex.Micros(to), 10))); err != nil {
		return cur, err
	}
	cur.LastSyncedAt = to
	return cur, nil
}
