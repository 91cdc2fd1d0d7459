package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/client"
	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/records"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/require"
)

const (
	testUser   = "u1"
	categories = models.EntityCategories
)

// fakeRemote is a tiny in-memory sync server with a per-user monotonic clock.
type fakeRemote struct {
	mu    sync.Mutex
	clock int64
	seq   int
	recs  map[string]*models.RemoteRecord

	pullErrs []error
	pushErrs []error

	pulls  int
	pushes int
	sizes  []int

	// block, when set, holds every pull until closed or ctx is done.
	block      chan struct{}
	active     int32
	maxActive  int32
	beforePush func()
	// rejectAll answers every pushed record with a conflict.
	rejectAll bool
	// lostAcks is the number of pushes that are applied but whose response
	// never reaches the client.
	lostAcks int
	// origins maps the local id of every create to the record it made.
	origins map[int64]string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{recs: make(map[string]*models.RemoteRecord), origins: make(map[int64]string)}
}

func (f *fakeRemote) tick() time.Time {
	now := time.Now().UnixMicro()
	if now <= f.clock {
		now = f.clock + 1
	}
	f.clock = now
	return time.UnixMicro(now).UTC()
}

// edit simulates another device writing the record at the current server time.
func (f *fakeRemote) edit(remoteID string, payload string, deleted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[remoteID]
	if !ok {
		r = &models.RemoteRecord{RemoteID: remoteID}
		f.recs[remoteID] = r
	}
	r.Payload = json.RawMessage(payload)
	r.Deleted = deleted
	r.UpdatedAt = f.tick()
}

func (f *fakeRemote) get(remoteID string) (models.RemoteRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[remoteID]
	if !ok {
		return models.RemoteRecord{}, false
	}
	return *r, true
}

func (f *fakeRemote) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

func (f *fakeRemote) PullSince(ctx context.Context, userID, entityType string, cursor time.Time) (models.PullResult, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		m := atomic.LoadInt32(&f.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxActive, m, n) {
			break
		}
	}

	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.PullResult{}, fmt.Errorf("%w: %w", client.ErrNetwork, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if len(f.pullErrs) > 0 {
		err := f.pullErrs[0]
		f.pullErrs = f.pullErrs[1:]
		if err != nil {
			return models.PullResult{}, err
		}
	}

	var out []models.RemoteRecord
	for _, r := range f.recs {
		if r.UpdatedAt.After(cursor) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return models.PullResult{Records: out, ServerTime: time.UnixMicro(f.clock).UTC()}, nil
}

func (f *fakeRemote) PushBatch(ctx context.Context, userID, entityType string, batch []models.RawRecord) (models.PushResult, error) {
	if hook := f.takeBeforePush(); hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	f.sizes = append(f.sizes, len(batch))
	if len(f.pushErrs) > 0 {
		err := f.pushErrs[0]
		f.pushErrs = f.pushErrs[1:]
		if err != nil {
			return models.PushResult{}, err
		}
	}

	var res models.PushResult
	for _, rec := range batch {
		if f.rejectAll {
			res.Rejected = append(res.Rejected, models.Rejected{LocalID: rec.LocalID, Reason: rpc.ReasonConflict})
			continue
		}
		if rec.RemoteID == "" {
			if id, ok := f.origins[rec.LocalID]; ok {
				res.Rejected = append(res.Rejected, models.Rejected{
					LocalID:         rec.LocalID,
					Reason:          rpc.ReasonConflict,
					RemoteID:        id,
					RemoteUpdatedAt: f.recs[id].UpdatedAt,
				})
				continue
			}
			f.seq++
			id := fmt.Sprintf("R%d", f.seq)
			r := &models.RemoteRecord{RemoteID: id, Payload: rec.Payload, Deleted: rec.Deleted, UpdatedAt: f.tick()}
			f.recs[id] = r
			f.origins[rec.LocalID] = id
			res.Accepted = append(res.Accepted, models.Accepted{LocalID: rec.LocalID, RemoteID: id, RemoteUpdatedAt: r.UpdatedAt})
			continue
		}
		r, ok := f.recs[rec.RemoteID]
		if !ok {
			res.Rejected = append(res.Rejected, models.Rejected{LocalID: rec.LocalID, Reason: rpc.ReasonNotFound})
			continue
		}
		if rec.RemoteUpdatedAt.Before(r.UpdatedAt) {
			res.Rejected = append(res.Rejected, models.Rejected{LocalID: rec.LocalID, Reason: rpc.ReasonConflict})
			continue
		}
		r.Payload = rec.Payload
		r.Deleted = rec.Deleted
		r.UpdatedAt = f.tick()
		res.Accepted = append(res.Accepted, models.Accepted{LocalID: rec.LocalID, RemoteID: r.RemoteID, RemoteUpdatedAt: r.UpdatedAt})
	}
	if f.lostAcks > 0 {
		f.lostAcks--
		return models.PushResult{}, fmt.Errorf("%w: connection reset", client.ErrNetwork)
	}
	return res, nil
}

func (f *fakeRemote) takeBeforePush() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.beforePush
	f.beforePush = nil
	return h
}

type env struct {
	db      *sql.DB
	store   *records.Store
	cursors *metadata.Cursors
	remote  *fakeRemote
	orch    *Orchestrator
}

func fastBackoff(retries uint64) BackoffFactory {
	return func() retry.Backoff {
		return retry.WithMaxRetries(retries, retry.NewConstant(time.Millisecond))
	}
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	ctx := context.Background()

	db, err := client.InitDatabase(ctx, filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := records.NewStore(ctx, db, categories)
	require.NoError(t, err)

	if cfg.Backoff == nil {
		cfg.Backoff = fastBackoff(3)
	}

	e := &env{
		db:      db,
		store:   store,
		cursors: metadata.NewCursors(metadata.NewSQLiteRepository(db)),
		remote:  newFakeRemote(),
	}
	e.orch = NewOrchestrator(e.remote, e.cursors, logging.Nop(), cfg)
	e.orch.Register(Entity{Store: store, Key: naturalKey})
	t.Cleanup(func() { _ = e.orch.Shutdown(context.Background()) })
	return e
}

var naturalKey = models.RawKey(models.CategoryCodec)

func (e *env) create(t *testing.T, name string) models.RawRecord {
	t.Helper()
	raw, err := models.CategoryCodec.Encode(models.Category{Name: name})
	require.NoError(t, err)
	rec, err := e.store.Repo().Create(context.Background(), raw)
	require.NoError(t, err)
	return rec
}

func (e *env) rename(t *testing.T, localID int64, name string) {
	t.Helper()
	raw, err := models.CategoryCodec.Encode(models.Category{Name: name})
	require.NoError(t, err)
	require.NoError(t, e.store.Repo().UpdatePayload(context.Background(), localID, raw))
}

func (e *env) get(t *testing.T, localID int64) (models.SyncableRecord[models.Category], bool) {
	t.Helper()
	raw, err := e.store.Repo().Get(context.Background(), localID)
	if err != nil {
		return models.SyncableRecord[models.Category]{}, false
	}
	rec, err := models.DecodeRecord(models.CategoryCodec, raw)
	require.NoError(t, err)
	return rec, true
}

func (e *env) live(t *testing.T) []models.RawRecord {
	t.Helper()
	recs, err := e.store.Repo().ListLive(context.Background())
	require.NoError(t, err)
	return recs
}

func (e *env) sync(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.orch.Sync(ctx, testUser, categories)
}

func (e *env) cursor(t *testing.T) time.Time {
	t.Helper()
	c, err := e.cursors.Get(context.Background(), testUser, categories)
	require.NoError(t, err)
	return c.LastSyncedAt
}

// drain collects events currently buffered.
func drain(o *Orchestrator) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-o.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(evs []Event) []EventKind {
	out := make([]EventKind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind)
	}
	return out
}

// brokenStore fails every transaction, standing in for a corrupt database.
type brokenStore struct {
	Store
}

var (
	_ Store       = (*records.Store)(nil)
	_ CursorStore = (*metadata.Cursors)(nil)
)

var errDiskIO = errors.New("disk I/O error")

func (b brokenStore) WithTx(ctx context.Context, fn func(ctx context.Context, repo records.Repository) error) error {
	return errDiskIO
}
