package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/server/config"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                   "k",
		AccessTokenValidityDuration: time.Hour,
		MaxPushBatch:                3,
	}
}

// frozenClock returns a now func pinned to t; wall time never advances, so
// every tick is clock+1.
func frozenClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newUser(t *testing.T, m repomanager.RepositoryManager, name string) *models.User {
	t.Helper()
	u, err := m.Users().Create(context.Background(), &models.User{UserName: name, Salt: []byte("salt"), Verifier: []byte("ver")})
	require.NoError(t, err)
	return u
}

func newSyncService(t *testing.T) (*SyncService, *repomanager.InMemoryRepositoryManager) {
	t.Helper()
	m := repomanager.NewInMemoryRepositoryManager()
	s := NewSyncService(m, testConfig(), logging.Nop())
	s.now = frozenClock(time.UnixMicro(1_000))
	return s, m
}
