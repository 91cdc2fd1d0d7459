package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/client/client"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/records"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
)

// Canceller stops the sync sessions of a user and keeps new ones from
// starting until Release. *syncer.Orchestrator satisfies it.
type Canceller interface {
	Cancel(ctx context.Context, userID string) error
	Release(userID string)
}

// Resetter clears in-memory state. *state.Registry satisfies it.
type Resetter interface {
	ResetAll()
}

// Cleanup tears down everything a signed-in user left on the device.
type Cleanup struct {
	db       *sql.DB
	tables   []string
	syncer   Canceller
	client   client.Client
	registry Resetter
	log      logging.Logger
}

func NewCleanup(db *sql.DB, tables []string, syncer Canceller, cl client.Client, registry Resetter, log logging.Logger) *Cleanup {
	return &Cleanup{
		db:       db,
		tables:   tables,
		syncer:   syncer,
		client:   cl,
		registry: registry,
		log:      log.With("module", "cleanup"),
	}
}

// OnLogout cancels userID's sessions, wipes every entity table in one
// transaction, clears the key-value cache, drops the remote session, and
// resets in-memory state. No session of userID can start until the wipe is
// over. Every step runs even when an earlier one failed; the failures are
// joined.
func (c *Cleanup) OnLogout(ctx context.Context, userID string) error {
	var errs []error
	step := func(name string, err error) {
		if err != nil {
			c.log.Error(ctx, "logout cleanup step failed", "step", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		c.log.Debug(ctx, "logout cleanup step done", "step", name)
	}

	if userID != "" && c.syncer != nil {
		step("cancel sync", c.syncer.Cancel(ctx, userID))
	}

	storeCtx := dbx.Detached(ctx)
	step("clear entities", dbx.WithTx(storeCtx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, t := range c.tables {
			if err := records.NewSQLiteRepository(tx, t, nil).Clear(ctx); err != nil {
				return err
			}
		}
		return nil
	}))
	step("clear cache", metadata.NewSQLiteRepository(c.db).Clear(storeCtx))

	if c.client != nil {
		c.client.SetSession(client.Session{})
	}
	if c.registry != nil {
		c.registry.ResetAll()
		c.log.Debug(ctx, "logout cleanup step done", "step", "reset state")
	}
	if userID != "" && c.syncer != nil {
		c.syncer.Release(userID)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.log.Info(ctx, "local data cleared", "user", userID)
	return nil
}
