package records

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/dmitrijs2005/ledgersync/internal/dbx"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store owns one entity table: it vends repositories bound to the database
// or to a transaction, all sharing one monotonic clock.
type Store struct {
	db    *sql.DB
	table string
	clock *Clock
}

// NewStore validates the table name and seeds the clock from the newest
// stored updated_at, so timestamps keep increasing across restarts.
func NewStore(ctx context.Context, db *sql.DB, table string) (*Store, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid entity table name %q", table)
	}
	s := &Store{db: db, table: table, clock: NewClock(nil)}

	var maxUpdated sql.NullInt64
	q := fmt.Sprintf(`SELECT MAX(updated_at) FROM %s`, table)
	if err := db.QueryRowContext(ctx, q).Scan(&maxUpdated); err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", table, err)
	}
	s.clock.Observe(maxUpdated.Int64)
	return s, nil
}

// EntityType is the table name, which doubles as the wire entity type.
func (s *Store) EntityType() string {
	return s.table
}

// Repo returns a repository bound to the database itself.
func (s *Store) Repo() Repository {
	return NewSQLiteRepository(s.db, s.table, s.clock)
}

// WithTx runs fn against a repository bound to a single transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, NewSQLiteRepository(tx, s.table, s.clock))
	})
}
