package syncer

import (
	"errors"

	"github.com/dmitrijs2005/ledgersync/internal/client/client"
)

var (
	// ErrStorage wraps local store failures; fatal for the running session.
	ErrStorage = errors.New("local storage failure")

	// ErrConflictRejection marks a push rejected because the server copy moved on.
	ErrConflictRejection = errors.New("push rejected: conflict")

	// ErrCancelled is returned by sessions stopped through Cancel or Shutdown.
	ErrCancelled = errors.New("sync cancelled")

	// ErrDraining refuses work for a user whose sessions are being cancelled.
	ErrDraining = errors.New("user is signing out")

	ErrUnknownEntity = errors.New("entity type not registered")
	ErrClosed        = errors.New("orchestrator is shut down")
)

// Retryable reports whether err is a transient remote failure worth a
// backoff retry.
func Retryable(err error) bool {
	return errors.Is(err, client.ErrNetwork) || errors.Is(err, client.ErrServer)
}
