package records

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

// MemoryRepository is an in-process Repository used by tests and local runs.
type MemoryRepository struct {
	mu   sync.Mutex
	recs map[string]models.SyncRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{recs: make(map[string]models.SyncRecord)}
}

func (r *MemoryRepository) SelectSince(ctx context.Context, userID, entityType string, since, upTo int64) ([]models.SyncRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SyncRecord
	for _, rec := range r.recs {
		if rec.UserID == userID && rec.EntityType == entityType && rec.UpdatedAt > since && rec.UpdatedAt <= upTo {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b models.SyncRecord) int {
		switch {
		case a.UpdatedAt < b.UpdatedAt:
			return -1
		case a.UpdatedAt > b.UpdatedAt:
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *MemoryRepository) Get(ctx context.Context, userID, entityType, id string) (*models.SyncRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok || rec.UserID != userID || rec.EntityType != entityType {
		return nil, common.ErrorNotFound
	}
	return &rec, nil
}

func (r *MemoryRepository) GetByOrigin(ctx context.Context, userID, entityType, origin string) (*models.SyncRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.recs {
		if origin != "" && rec.UserID == userID && rec.EntityType == entityType && rec.Origin == origin {
			return &rec, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) Insert(ctx context.Context, rec *models.SyncRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[rec.ID]; ok {
		return common.ErrorAlreadyExists
	}
	if rec.Origin != "" {
		for _, other := range r.recs {
			if other.UserID == rec.UserID && other.EntityType == rec.EntityType && other.Origin == rec.Origin {
				return common.ErrorAlreadyExists
			}
		}
	}
	stored := *rec
	stored.CreatedAt = time.Now()
	r.recs[rec.ID] = stored
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, rec *models.SyncRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.recs[rec.ID]
	if !ok || stored.UserID != rec.UserID {
		return common.ErrorNotFound
	}
	stored.Payload = rec.Payload
	stored.UpdatedAt = rec.UpdatedAt
	stored.Deleted = rec.Deleted
	r.recs[rec.ID] = stored
	return nil
}

// Snapshot returns a function that restores the repository to its current
// contents.
func (r *MemoryRepository) Snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]models.SyncRecord, len(r.recs))
	for k, v := range r.recs {
		saved[k] = v
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.recs = saved
	}
}
