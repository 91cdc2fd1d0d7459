// Package users stores accounts and their per-user sync clocks.
package users

import (
	"context"

	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

type Repository interface {
	// Create inserts a user; a taken username yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)

	// Clock returns the user's current sync clock.
	Clock(ctx context.Context, userID string) (int64, error)

	// Tick advances the clock to max(clock+1, now) and returns the new value.
	Tick(ctx context.Context, userID string, now int64) (int64, error)
}
