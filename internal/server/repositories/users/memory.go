package users

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and local runs.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	byLogin map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*models.User), byLogin: make(map[string]string)}
}

func (r *MemoryRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byLogin[user.UserName]; ok {
		return nil, common.ErrorAlreadyExists
	}
	u := *user
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	r.byID[u.ID] = &u
	r.byLogin[u.UserName] = u.ID
	user.ID = u.ID
	return user, nil
}

func (r *MemoryRepository) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byLogin[login]
	if !ok {
		return nil, common.ErrorNotFound
	}
	u := *r.byID[id]
	return &u, nil
}

func (r *MemoryRepository) Clock(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return 0, common.ErrorNotFound
	}
	return u.Clock, nil
}

func (r *MemoryRepository) Tick(ctx context.Context, userID string, now int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return 0, common.ErrorNotFound
	}
	u.Clock = max(u.Clock+1, now)
	return u.Clock, nil
}

// Snapshot and Restore give the in-memory manager rollback.
func (r *MemoryRepository) Snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := make(map[string]*models.User, len(r.byID))
	for k, v := range r.byID {
		u := *v
		byID[k] = &u
	}
	byLogin := make(map[string]string, len(r.byLogin))
	for k, v := range r.byLogin {
		byLogin[k] = v
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byID, r.byLogin = byID, byLogin
	}
}
