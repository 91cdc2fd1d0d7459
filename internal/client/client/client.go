package client

import (
	"context"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
)

// Remote is the pull/push contract used by the sync orchestrator.
type Remote interface {
	PullSince(ctx context.Context, userID, entityType string, cursor time.Time) (models.PullResult, error)
	PushBatch(ctx context.Context, userID, entityType string, batch []models.RawRecord) (models.PushResult, error)
}

// Session is an authenticated server session.
type Session struct {
	AccessToken string
	UserID      string
	ExpiresAt   time.Time
}

type Client interface {
	Remote

	Register(ctx context.Context, username string, salt []byte, verifier []byte) error
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, verifier []byte) (Session, error)
	Ping(ctx context.Context) error

	// SetSession installs (or, with a zero Session, drops) the session used
	// for pull and push. Login installs it automatically.
	SetSession(s Session)
	SetDeviceID(id string)
	Close() error
}
