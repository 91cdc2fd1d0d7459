// Package repomanager bundles the server repositories behind one handle and
// runs units of work against them transactionally.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/records"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/users"
)

// Repos is the set of repositories visible inside a unit of work.
type Repos interface {
	Users() users.Repository
	Records() records.Repository
}

type RepositoryManager interface {
	Repos

	// WithTx runs fn with repositories bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, r Repos) error) error

	RunMigrations(ctx context.Context) error
	Close() error
}
