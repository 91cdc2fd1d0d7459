package repomanager

import (
	"context"
	"database/sql"
	"sync"

	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/records"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/users"
)

// InMemoryRepositoryManager keeps everything in process memory. Units of
// work are serialized and rolled back by restoring a snapshot.
type InMemoryRepositoryManager struct {
	txMu    sync.Mutex
	users   *users.MemoryRepository
	records *records.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		users:   users.NewMemoryRepository(),
		records: records.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) Users() users.Repository     { return m.users }
func (m *InMemoryRepositoryManager) Records() records.Repository { return m.records }

func (m *InMemoryRepositoryManager) WithTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, r Repos) error) (err error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	restoreUsers := m.users.Snapshot()
	restoreRecords := m.records.Snapshot()
	defer func() {
		if p := recover(); p != nil {
			restoreUsers()
			restoreRecords()
			panic(p)
		}
		if err != nil {
			restoreUsers()
			restoreRecords()
		}
	}()

	return fn(ctx, m)
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context) error { return nil }

func (m *InMemoryRepositoryManager) Close() error { return nil }
