// Package engine assembles the client side of ledgersync: the local store,
// the remote client, the sync orchestrator, the network monitor and the
// session cleanup. A SyncEngine is an explicit instance; nothing here keeps
// package-level state.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/client"
	"github.com/dmitrijs2005/ledgersync/internal/client/config"
	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/netmon"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/records"
	"github.com/dmitrijs2005/ledgersync/internal/client/services"
	"github.com/dmitrijs2005/ledgersync/internal/client/state"
	"github.com/dmitrijs2005/ledgersync/internal/client/syncer"
	"github.com/dmitrijs2005/ledgersync/internal/filex"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"google.golang.org/grpc"
)

var (
	// ErrNotSignedIn is returned by operations that need a signed-in user.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrForeignData means the local store holds another user's data. It
	// must be wiped with Logout before a different user can sign in.
	ErrForeignData = errors.New("local data belongs to another user, log out first")
)

// SyncStatus is the last known sync outcome of one entity type.
type SyncStatus struct {
	// State is the orchestrator's session state at the time of the read.
	State    syncer.State
	Running  bool
	Attempt  int
	Retrying bool
	// LastKind is meaningful only when LastAt is set.
	LastKind syncer.EventKind
	Stats    syncer.Stats
	LastErr  error
	LastAt   time.Time
}

type options struct {
	dialOpts []grpc.DialOption
	backoff  syncer.BackoffFactory
}

type Option func(*options)

// WithDialOptions adds gRPC dial options, e.g. a bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// WithBackoff replaces the retry schedule built from the config.
func WithBackoff(b syncer.BackoffFactory) Option {
	return func(o *options) { o.backoff = b }
}

type SyncEngine struct {
	cfg *config.Config
	log logging.Logger

	db         *sql.DB
	remote     *client.GRPCClient
	auth       services.AuthService
	stores     []*records.Store
	categories *services.Collection[models.Category]
	orch       *syncer.Orchestrator
	monitor    *netmon.Monitor
	cleanup    *services.Cleanup

	registry *state.Registry
	// applyMu orders event application against Reset, so an event of the
	// outgoing user never lands after the state was cleared.
	applyMu  sync.Mutex
	user     *state.Value[services.Identity]
	online   *state.Value[bool]
	statusMu sync.Mutex
	status   map[string]*state.Value[SyncStatus]

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New opens the local database at cfg.DBPath and wires every component.
// Nothing runs in the background until Start.
func New(ctx context.Context, cfg *config.Config, log logging.Logger, opts ...Option) (*SyncEngine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := syncer.ParseDeletePolicy(cfg.DeletePolicy)
	if err != nil {
		return nil, err
	}
	backoff := o.backoff
	if backoff == nil {
		retries := cfg.MaxRetries
		if retries < 0 {
			retries = 0
		}
		backoff = syncer.ExponentialBackoff(cfg.BackoffMin, cfg.BackoffMax, uint64(retries))
	}

	path, err := filex.EnsureParentDir(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	db, err := client.InitDatabase(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	remote, err := client.NewGRPCClient(cfg.ServerEndpointAddr,
		client.WithTimeout(cfg.RemoteTimeout),
		client.WithDialOptions(o.dialOpts...))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create remote client: %w", err)
	}

	catStore, err := records.NewStore(ctx, db, models.EntityCategories)
	if err != nil {
		_ = remote.Close()
		_ = db.Close()
		return nil, err
	}

	e := &SyncEngine{
		cfg:        cfg,
		log:        log.With("module", "engine"),
		db:         db,
		remote:     remote,
		auth:       services.NewAuthService(remote, db),
		stores:     []*records.Store{catStore},
		categories: services.NewCategories(catStore),
		registry:   &state.Registry{},
		user:       state.NewValue(services.Identity{}),
		online:     state.NewValue(false),
		status:     make(map[string]*state.Value[SyncStatus]),
	}

	e.orch = syncer.NewOrchestrator(remote, metadata.NewCursors(metadata.NewSQLiteRepository(db)), log, syncer.Config{
		Policy:    policy,
		BatchSize: cfg.PushBatchSize,
		Backoff:   backoff,
		Rearm:     cfg.BackoffMax,
	})
	e.orch.Register(syncer.Entity{Store: catStore, Key: models.RawKey(models.CategoryCodec)})

	tables := make([]string, 0, len(e.stores))
	for _, s := range e.stores {
		tables = append(tables, s.EntityType())
		e.status[s.EntityType()] = state.NewValue(SyncStatus{})
	}

	e.registry.Add(e.user)
	for _, v := range e.status {
		e.registry.Add(v)
	}

	e.monitor = netmon.New(remote, e.orch, e.currentUserID, log, netmon.Config{
		Interval: cfg.OnlineCheckInterval,
		Debounce: cfg.SyncDebounce,
	})
	e.monitor.OnChange(e.online.Set)

	e.cleanup = services.NewCleanup(db, tables, e.orch, remote, e.registry, log)

	return e, nil
}

func (e *SyncEngine) currentUserID() string {
	return e.user.Get().UserID
}

// Start launches the network monitor and the event forwarder. It is a no-op
// when already started.
func (e *SyncEngine) Start(ctx context.Context) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.monitor.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.forwardEvents(runCtx)
	}()
	e.log.Debug(ctx, "engine started")
}

// Shutdown stops background work, waits for running sync sessions and
// releases the remote connection and the database.
func (e *SyncEngine) Shutdown(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.stopped {
		e.lifeMu.Unlock()
		return nil
	}
	e.stopped = true
	cancel := e.cancel
	e.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if err := e.orch.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop syncer: %w", err))
	}
	e.wg.Wait()

	if err := e.auth.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close remote: %w", err))
	}
	if err := e.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close local store: %w", err))
	}
	e.log.Debug(ctx, "engine stopped")
	return errors.Join(errs...)
}

// forwardEvents mirrors orchestrator events into the status containers.
func (e *SyncEngine) forwardEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.orch.Events():
			if !ok {
				return
			}
			e.apply(ctx, ev)
		}
	}
}

func (e *SyncEngine) apply(ctx context.Context, ev syncer.Event) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	if ev.UserID != e.currentUserID() {
		return
	}
	v := e.statusValue(ev.EntityType)
	if v == nil {
		return
	}

	v.Update(func(s SyncStatus) SyncStatus {
		switch ev.Kind {
		case syncer.EventStarted:
			s.Running = true
			s.Attempt = ev.Attempt
		case syncer.EventCompleted:
			s.Running, s.Retrying = false, false
			s.Stats = ev.Stats
			s.LastErr = nil
		default:
			s.Running = ev.Retrying
			s.Retrying = ev.Retrying
			s.LastErr = ev.Err
		}
		if ev.Kind != syncer.EventStarted {
			s.LastKind = ev.Kind
			s.LastAt = ev.At
		}
		return s
	})

	switch ev.Kind {
	case syncer.EventAuthFailed:
		e.log.Warn(ctx, "session rejected by server, sign in again", "entity", ev.EntityType, "error", ev.Err)
	case syncer.EventStorageCorrupt:
		e.log.Error(ctx, "local store keeps failing", "entity", ev.EntityType, "error", ev.Err)
	}
}

func (e *SyncEngine) statusValue(entityType string) *state.Value[SyncStatus] {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status[entityType]
}

// Register creates an account on the server.
func (e *SyncEngine) Register(ctx context.Context, username string, password []byte) error {
	return e.auth.Register(ctx, username, password)
}

// Login signs username in. It tries the server first and falls back to the
// cached credentials when the server is unreachable. A successful online
// login schedules a sync of every entity type.
func (e *SyncEngine) Login(ctx context.Context, username string, password []byte) (services.Identity, error) {
	cached, err := e.auth.CachedUsername(ctx)
	if err != nil {
		return services.Identity{}, err
	}
	if cached != "" && cached != username {
		return services.Identity{}, ErrForeignData
	}

	id, err := e.auth.OnlineLogin(ctx, username, password)
	if errors.Is(err, client.ErrNetwork) {
		e.log.Info(ctx, "server unreachable, trying offline login", "user", username)
		e.monitor.Report(false)
		id, err = e.auth.OfflineLogin(ctx, username, password)
	}
	if err != nil {
		return services.Identity{}, err
	}

	e.user.Set(id)
	e.log.Info(ctx, "signed in", "user", username, "online", id.Online)

	if id.Online {
		e.monitor.Report(true)
		e.TriggerAll()
	}
	return id, nil
}

// Logout cancels the user's sync sessions and wipes every trace of the user
// from the device, including changes that were never pushed.
func (e *SyncEngine) Logout(ctx context.Context) error {
	return e.Reset(ctx)
}

// Reset runs session cleanup for the signed-in user (if any) and returns the
// engine to its initial state.
func (e *SyncEngine) Reset(ctx context.Context) error {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	userID := e.currentUserID()
	// Signed out first, so connectivity changes and commands stop
	// scheduling work for the user while their data is wiped.
	e.user.Set(services.Identity{})
	return e.cleanup.OnLogout(ctx, userID)
}

// User returns the signed-in identity; UserID is empty when nobody is.
func (e *SyncEngine) User() services.Identity {
	return e.user.Get()
}

// OnUserChange subscribes fn to sign-in and sign-out.
func (e *SyncEngine) OnUserChange(fn func(services.Identity)) (unsubscribe func()) {
	return e.user.Subscribe(fn)
}

// Categories is the query and mutation surface for categories.
func (e *SyncEngine) Categories() *services.Collection[models.Category] {
	return e.categories
}

// EntityTypes lists the synchronized entity types.
func (e *SyncEngine) EntityTypes() []string {
	return e.orch.EntityTypes()
}

// TriggerAll schedules a sync of every entity type and returns immediately.
func (e *SyncEngine) TriggerAll() {
	userID := e.currentUserID()
	if userID == "" {
		return
	}
	for _, et := range e.orch.EntityTypes() {
		e.orch.Trigger(userID, et)
	}
}

// SyncNow syncs every entity type and waits for all of them. The entity
// types run concurrently; their errors are joined.
func (e *SyncEngine) SyncNow(ctx context.Context) error {
	userID := e.currentUserID()
	if userID == "" {
		return ErrNotSignedIn
	}

	types := e.orch.EntityTypes()
	errs := make([]error, len(types))
	var wg sync.WaitGroup
	for i, et := range types {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.orch.Sync(ctx, userID, et); err != nil {
				errs[i] = fmt.Errorf("%s: %w", et, err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Status returns the sync status of entityType.
func (e *SyncEngine) Status(entityType string) (SyncStatus, bool) {
	v := e.statusValue(entityType)
	if v == nil {
		return SyncStatus{}, false
	}
	s := v.Get()
	if sess, _, ok := e.orch.Status(e.currentUserID(), entityType); ok {
		s.State = sess.State
	}
	return s, true
}

// OnStatusChange subscribes fn to status updates of entityType.
func (e *SyncEngine) OnStatusChange(entityType string, fn func(SyncStatus)) (unsubscribe func(), ok bool) {
	v := e.statusValue(entityType)
	if v == nil {
		return func() {}, false
	}
	return v.Subscribe(fn), true
}

// Online reports the last observed connectivity.
func (e *SyncEngine) Online() bool {
	return e.online.Get()
}

// OnConnectivityChange subscribes fn to online/offline transitions.
func (e *SyncEngine) OnConnectivityChange(fn func(online bool)) (unsubscribe func()) {
	return e.online.Subscribe(fn)
}

// ReportConnectivity feeds a connectivity observation to the monitor.
func (e *SyncEngine) ReportConnectivity(online bool) {
	e.monitor.Report(online)
}

// Pending counts local changes of entityType not yet acknowledged by the
// server.
func (e *SyncEngine) Pending(ctx context.Context, entityType string) (int, error) {
	for _, s := range e.stores {
		if s.EntityType() == entityType {
			recs, err := s.Repo().PendingChanges(ctx)
			return len(recs), err
		}
	}
	return 0, fmt.Errorf("unknown entity type %q", entityType)
}
