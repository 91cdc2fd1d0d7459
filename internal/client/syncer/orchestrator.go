// Package syncer runs pull-resolve-push sync sessions between the local
// record stores and the remote backend.
//
// Sessions are single-flight per (user, entity type): a trigger that arrives
// while a session runs only sets a "run again" flag. Cancellation is
// cooperative and checked between states; store writes are never torn by it.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/client"
	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/records"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
)

const (
	MaxConflictReruns       = 3
	StorageFailureThreshold = 3
	defaultEventBuffer      = 64
)

// Store is the local side of one entity type. *records.Store satisfies it.
type Store interface {
	EntityType() string
	Repo() records.Repository
	WithTx(ctx context.Context, fn func(ctx context.Context, repo records.Repository) error) error
}

// CursorStore persists pull watermarks. *metadata.Cursors satisfies it.
type CursorStore interface {
	Get(ctx context.Context, userID, entityType string) (models.SyncCursor, error)
	Advance(ctx context.Context, userID, entityType string, to time.Time) (models.SyncCursor, error)
}

// Entity binds a store to the natural-key function of its payload.
type Entity struct {
	Store Store
	// Key returns the natural key of a raw payload ("" for none). Optional.
	Key func(json.RawMessage) string
}

type Config struct {
	Policy    DeletePolicy
	BatchSize int
	Backoff   BackoffFactory
	// EventBuffer is the capacity of the Events channel; events are dropped
	// (and logged) when nobody drains it.
	EventBuffer int
	// Rearm is how long a pair waits before starting a new chain after its
	// backoff schedule ran out on a transient failure.
	Rearm time.Duration
}

func (c *Config) normalize() {
	if c.BatchSize <= 0 || c.BatchSize > common.MaxPushBatch {
		c.BatchSize = common.MaxPushBatch
	}
	if c.Backoff == nil {
		c.Backoff = ExponentialBackoff(DefaultBackoffMin, DefaultBackoffMax, DefaultMaxRetries)
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.Rearm <= 0 {
		c.Rearm = DefaultBackoffMax
	}
}

type pairKey struct {
	user   string
	entity string
}

// pair is the single-flight slot of one (user, entity type).
type pair struct {
	running bool
	rerun   bool
	cancel  context.CancelFunc
	done    chan struct{}
	session Session
	lastErr error
	waiters []chan error
	// storageFailures counts consecutive sessions that failed on the store.
	storageFailures int
	// rearm restarts the pair after a chain gave up on a transient failure.
	rearm *time.Timer
}

type Orchestrator struct {
	remote  client.Remote
	cursors CursorStore
	log     logging.Logger
	cfg     Config

	mu       sync.Mutex
	entities map[string]Entity
	pairs    map[pairKey]*pair
	closed   bool
	// draining holds users whose sessions are being torn down; no new
	// session starts for them until Release.
	draining map[string]struct{}

	events chan Event
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewOrchestrator(remote client.Remote, cursors CursorStore, log logging.Logger, cfg Config) *Orchestrator {
	cfg.normalize()
	return &Orchestrator{
		remote:   remote,
		cursors:  cursors,
		log:      log.With("module", "syncer"),
		cfg:      cfg,
		entities: make(map[string]Entity),
		pairs:    make(map[pairKey]*pair),
		draining: make(map[string]struct{}),
		events:   make(chan Event, cfg.EventBuffer),
		now:      time.Now,
	}
}

// Register adds an entity type. Registering the same type twice replaces it.
func (o *Orchestrator) Register(e Entity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entities[e.Store.EntityType()] = e
}

// EntityTypes lists registered entity types in name order.
func (o *Orchestrator) EntityTypes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	types := make([]string, 0, len(o.entities))
	for t := range o.entities {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Events delivers session lifecycle events. It is closed by Shutdown.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Trigger requests a session and returns immediately.
func (o *Orchestrator) Trigger(userID, entityType string) {
	if err := o.enqueue(userID, entityType, nil); err != nil {
		o.log.Warn(context.Background(), "sync trigger ignored", "user", userID, "entity", entityType, "error", err)
	}
}

// Sync requests a session and waits until the pair is idle again. It returns
// the error of the last session in the chain.
func (o *Orchestrator) Sync(ctx context.Context, userID, entityType string) error {
	ch := make(chan error, 1)
	if err := o.enqueue(userID, entityType, ch); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current session of a pair; ok is false when idle.
func (o *Orchestrator) Status(userID, entityType string) (s Session, lastErr error, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, found := o.pairs[pairKey{userID, entityType}]
	if !found {
		return Session{UserID: userID, EntityType: entityType}, nil, false
	}
	return p.session, p.lastErr, p.running
}

func (o *Orchestrator) enqueue(userID, entityType string, waiter chan error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if userID == "" {
		return fmt.Errorf("%w: no user", client.ErrAuth)
	}
	if _, ok := o.draining[userID]; ok {
		return ErrDraining
	}
	if _, ok := o.entities[entityType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}

	k := pairKey{userID, entityType}
	p, ok := o.pairs[k]
	if !ok {
		p = &pair{}
		o.pairs[k] = p
	}
	if waiter != nil {
		p.waiters = append(p.waiters, waiter)
	}
	p.stopRearm()
	if p.running {
		p.rerun = true
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.rerun = false
	p.cancel = cancel
	p.done = make(chan struct{})
	p.session = Session{UserID: userID, EntityType: entityType, State: StateIdle}

	o.wg.Add(1)
	go o.loop(ctx, k, p)
	return nil
}

// loop runs sessions for one pair until no rerun is pending.
func (o *Orchestrator) loop(ctx context.Context, k pairKey, p *pair) {
	defer o.wg.Done()

	conflictReruns := 0
	for {
		conflict, err := o.runWithRetry(ctx, k, p)

		o.mu.Lock()
		again := p.rerun
		p.rerun = false
		if conflict && err == nil {
			if conflictReruns < MaxConflictReruns {
				conflictReruns++
				again = true
			} else if !again {
				err = fmt.Errorf("%w: still rejected after %d reruns", ErrConflictRejection, MaxConflictReruns)
				o.log.Warn(ctx, "giving up on conflicting records", "user", k.user, "entity", k.entity)
			}
		}
		if ctx.Err() != nil || errors.Is(err, client.ErrAuth) {
			again = false
		}
		if again {
			o.mu.Unlock()
			continue
		}

		p.running = false
		p.lastErr = err
		if err == nil {
			p.session.State = StateIdle
		}
		if err != nil && Retryable(err) && ctx.Err() == nil && !o.closed {
			o.log.Info(ctx, "sync rearmed", "user", k.user, "entity", k.entity, "after", o.cfg.Rearm)
			p.rearm = time.AfterFunc(o.cfg.Rearm, func() { o.Trigger(k.user, k.entity) })
		}
		for _, w := range p.waiters {
			w <- err
		}
		p.waiters = nil
		p.cancel()
		close(p.done)
		o.mu.Unlock()
		return
	}
}

// runWithRetry runs one session, retrying transient failures on the backoff
// schedule. conflict is true when a push was rejected with a conflict.
func (o *Orchestrator) runWithRetry(ctx context.Context, k pairKey, p *pair) (bool, error) {
	backoff := o.cfg.Backoff()

	for attempt := 1; ; attempt++ {
		o.setSession(p, Session{UserID: k.user, EntityType: k.entity, State: StateIdle, AttemptCount: attempt})
		o.emit(Event{Kind: EventStarted, UserID: k.user, EntityType: k.entity, Attempt: attempt})

		stats, conflict, err := o.runSession(ctx, k, p)
		if err == nil {
			o.mu.Lock()
			p.storageFailures = 0
			o.mu.Unlock()
			o.log.Info(ctx, "sync complete", "user", k.user, "entity", k.entity, "attempt", attempt,
				"pulled", stats.Pulled, "pushed", stats.Pushed, "rejected", stats.Rejected)
			o.emit(Event{Kind: EventCompleted, UserID: k.user, EntityType: k.entity, Attempt: attempt, Stats: stats})
			return conflict, nil
		}

		o.setState(p, StateFailed)
		ev := Event{Kind: EventFailed, UserID: k.user, EntityType: k.entity, Attempt: attempt, Stats: stats, Err: err}

		switch {
		case errors.Is(err, ErrCancelled):
			o.log.Info(ctx, "sync cancelled", "user", k.user, "entity", k.entity)
			return false, err

		case errors.Is(err, client.ErrAuth):
			o.log.Warn(ctx, "sync stopped: authentication failed", "user", k.user, "entity", k.entity, "error", err)
			ev.Kind = EventAuthFailed
			o.emit(ev)
			return false, err

		case errors.Is(err, ErrStorage):
			o.mu.Lock()
			p.storageFailures++
			failures := p.storageFailures
			o.mu.Unlock()
			o.log.Error(ctx, "sync failed on local store", "user", k.user, "entity", k.entity, "consecutive", failures, "error", err)
			o.emit(ev)
			if failures%StorageFailureThreshold == 0 {
				ev.Kind = EventStorageCorrupt
				o.emit(ev)
			}
			return false, err

		case Retryable(err):
			delay, stop := backoff.Next()
			if stop {
				o.log.Warn(ctx, "sync failed, giving up", "user", k.user, "entity", k.entity, "attempt", attempt, "error", err)
				o.emit(ev)
				return false, err
			}
			o.log.Info(ctx, "sync failed, retrying", "user", k.user, "entity", k.entity, "attempt", attempt, "delay", delay, "error", err)
			ev.Retrying = true
			o.emit(ev)

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return false, ErrCancelled
			case <-t.C:
			}

		default:
			o.log.Error(ctx, "sync failed", "user", k.user, "entity", k.entity, "error", err)
			o.emit(ev)
			return false, err
		}
	}
}

// runSession is one pass through Pulling, Resolving, Pushing and Complete.
func (o *Orchestrator) runSession(ctx context.Context, k pairKey, p *pair) (Stats, bool, error) {
	var stats Stats

	o.mu.Lock()
	ent := o.entities[k.entity]
	o.mu.Unlock()

	storeCtx := dbx.Detached(ctx)

	if err := o.checkpoint(ctx, p, StatePulling); err != nil {
		return stats, false, err
	}
	cursor, err := o.cursors.Get(storeCtx, k.user, k.entity)
	if err != nil {
		return stats, false, fmt.Errorf("%w: read cursor: %w", ErrStorage, err)
	}
	pulled, err := o.remote.PullSince(ctx, k.user, k.entity, cursor.LastSyncedAt)
	if err != nil {
		if ctx.Err() != nil {
			return stats, false, ErrCancelled
		}
		return stats, false, fmt.Errorf("pull: %w", err)
	}
	stats.Pulled = len(pulled.Records)

	if err := o.checkpoint(ctx, p, StateResolving); err != nil {
		return stats, false, err
	}
	if err := o.resolve(storeCtx, ent, pulled.Records, &stats); err != nil {
		return stats, false, fmt.Errorf("%w: resolve: %w", ErrStorage, err)
	}

	if err := o.checkpoint(ctx, p, StatePushing); err != nil {
		return stats, false, err
	}
	conflict, err := o.push(ctx, k, ent, &stats)
	if err != nil {
		return stats, conflict, err
	}

	if ctx.Err() != nil {
		return stats, conflict, ErrCancelled
	}
	if _, err := o.cursors.Advance(storeCtx, k.user, k.entity, pulled.ServerTime); err != nil {
		return stats, conflict, fmt.Errorf("%w: advance cursor: %w", ErrStorage, err)
	}
	o.setState(p, StateComplete)
	return stats, conflict, nil
}

// resolve applies pulled records to the store in one transaction.
func (o *Orchestrator) resolve(ctx context.Context, ent Entity, remote []models.RemoteRecord, stats *Stats) error {
	if len(remote) == 0 {
		return nil
	}
	return ent.Store.WithTx(ctx, func(ctx context.Context, repo records.Repository) error {
		var byKey map[string][]models.RawRecord

		for _, rr := range remote {
			local, err := repo.GetByRemoteID(ctx, rr.RemoteID)
			found := err == nil
			if err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}

			if !found && !rr.Deleted && ent.Key != nil {
				if byKey == nil {
					if byKey, err = o.neverPushedByKey(ctx, repo, ent.Key); err != nil {
						return err
					}
				}
				if key := ent.Key(rr.Payload); key != "" && len(byKey[key]) > 0 {
					local = byKey[key][0]
					byKey[key] = byKey[key][1:]
					found = true
				}
			}

			if !found {
				if rr.Deleted {
					continue
				}
				if _, err := repo.InsertRemote(ctx, rr); err != nil {
					return err
				}
				stats.Inserted++
				continue
			}

			switch Resolve(local, rr, o.cfg.Policy) {
			case KeepLocal:
				if local.Dirty {
					if err := repo.Rebaseline(ctx, local.LocalID, rr.RemoteID, rr.UpdatedAt); err != nil {
						return err
					}
					stats.Rebased++
				}
			case AdoptRemote:
				if rr.Deleted {
					err = repo.Purge(ctx, local.LocalID)
				} else {
					err = repo.ApplyRemote(ctx, local.LocalID, rr)
				}
				if err != nil {
					return err
				}
				stats.Adopted++
			}
		}
		return nil
	})
}

func (o *Orchestrator) neverPushedByKey(ctx context.Context, repo records.Repository, key func(json.RawMessage) string) (map[string][]models.RawRecord, error) {
	locals, err := repo.ListNeverPushed(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string][]models.RawRecord, len(locals))
	for _, l := range locals {
		if k := key(l.Payload); k != "" {
			byKey[k] = append(byKey[k], l)
		}
	}
	return byKey, nil
}

// push sends pending changes in batches. It reports whether any record was
// rejected with a conflict.
func (o *Orchestrator) push(ctx context.Context, k pairKey, ent Entity, stats *Stats) (bool, error) {
	storeCtx := dbx.Detached(ctx)

	pending, err := ent.Store.Repo().PendingChanges(storeCtx)
	if err != nil {
		return false, fmt.Errorf("%w: pending changes: %w", ErrStorage, err)
	}

	var toSend []models.RawRecord
	var localOnly []int64
	for _, rec := range pending {
		if rec.Deleted && rec.NeverPushed() {
			localOnly = append(localOnly, rec.LocalID)
			continue
		}
		toSend = append(toSend, rec)
	}

	if len(localOnly) > 0 {
		err := ent.Store.WithTx(storeCtx, func(ctx context.Context, repo records.Repository) error {
			for _, id := range localOnly {
				if err := repo.Purge(ctx, id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("%w: purge local tombstones: %w", ErrStorage, err)
		}
		stats.Purged += len(localOnly)
	}

	conflict := false
	for start := 0; start < len(toSend); start += o.cfg.BatchSize {
		if ctx.Err() != nil {
			return conflict, ErrCancelled
		}
		end := min(start+o.cfg.BatchSize, len(toSend))
		batch := toSend[start:end]

		res, err := o.remote.PushBatch(ctx, k.user, k.entity, batch)
		if err != nil {
			if ctx.Err() != nil {
				return conflict, ErrCancelled
			}
			return conflict, fmt.Errorf("push: %w", err)
		}

		sent := make(map[int64]models.RawRecord, len(batch))
		for _, rec := range batch {
			sent[rec.LocalID] = rec
		}

		err = ent.Store.WithTx(storeCtx, func(ctx context.Context, repo records.Repository) error {
			for _, a := range res.Accepted {
				rec, ok := sent[a.LocalID]
				if !ok {
					continue
				}
				var err error
				switch {
				case rec.Deleted:
					err = repo.Purge(ctx, a.LocalID)
					stats.Purged++
				case rec.NeverPushed():
					err = o.linkCreate(ctx, repo, rec, a.RemoteID, a.RemoteUpdatedAt, true, stats)
				default:
					err = repo.ClearDirty(ctx, a.LocalID, a.RemoteID, a.RemoteUpdatedAt, rec.UpdatedAt)
				}
				if err != nil && !errors.Is(err, common.ErrorNotFound) {
					return err
				}
				stats.Pushed++
			}

			for _, r := range res.Rejected {
				stats.Rejected++
				o.log.Warn(ctx, "record rejected by server", "entity", k.entity, "local_id", r.LocalID, "reason", r.Reason)
				if r.Reason != rpc.ReasonConflict {
					continue
				}
				conflict = true
				rec, ok := sent[r.LocalID]
				if !ok || r.RemoteID == "" || !rec.NeverPushed() {
					continue
				}
				// A repeated create: the server kept the first one.
				if err := o.linkCreate(ctx, repo, rec, r.RemoteID, r.RemoteUpdatedAt, false, stats); err != nil && !errors.Is(err, common.ErrorNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return conflict, fmt.Errorf("%w: acknowledge push: %w", ErrStorage, err)
		}
	}
	return conflict, nil
}

// linkCreate binds the pushed create rec to the server record remoteID at
// remoteUpdatedAt. acked is false when the server refused the create because
// it already stored it: rec then stays dirty on the server baseline so the
// next push becomes an ordinary update.
//
// When an earlier pull already stored the server copy in another row, rec is
// folded into that row instead. Its payload survives only when it is newer
// than the server copy and the pulled row has no local edits of its own.
func (o *Orchestrator) linkCreate(ctx context.Context, repo records.Repository, rec models.RawRecord, remoteID string, remoteUpdatedAt time.Time, acked bool, stats *Stats) error {
	twin, err := repo.GetByRemoteID(ctx, remoteID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	if err != nil || twin.LocalID == rec.LocalID {
		if !acked {
			return repo.Rebaseline(ctx, rec.LocalID, remoteID, remoteUpdatedAt)
		}
		return repo.ClearDirty(ctx, rec.LocalID, remoteID, remoteUpdatedAt, rec.UpdatedAt)
	}

	current, err := repo.Get(ctx, rec.LocalID)
	if err != nil {
		return err
	}
	if !twin.Dirty && !twin.Deleted && current.UpdatedAt.After(twin.RemoteUpdatedAt) {
		if err := repo.UpdatePayload(ctx, twin.LocalID, current.Payload); err != nil {
			return err
		}
	}
	if err := repo.Purge(ctx, rec.LocalID); err != nil {
		return err
	}
	stats.Merged++
	o.log.Info(ctx, "merged repeated create into pulled copy",
		"local_id", rec.LocalID, "into", twin.LocalID, "remote_id", remoteID)
	return nil
}

func (o *Orchestrator) checkpoint(ctx context.Context, p *pair, next State) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	o.setState(p, next)
	return nil
}

func (o *Orchestrator) setState(p *pair, s State) {
	o.mu.Lock()
	p.session.State = s
	o.mu.Unlock()
}

func (o *Orchestrator) setSession(p *pair, s Session) {
	o.mu.Lock()
	p.session = s
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ev Event) {
	ev.At = o.now()
	select {
	case o.events <- ev:
	default:
		o.log.Warn(context.Background(), "sync event dropped", "kind", ev.Kind.String(), "entity", ev.EntityType)
	}
}

func (p *pair) stopRearm() {
	if p.rearm != nil {
		p.rearm.Stop()
		p.rearm = nil
	}
}

// Cancel stops every session of userID and waits until they are idle or
// ctx is done. Pending reruns are dropped. The user stays fenced off, with
// every new trigger refused, until Release.
func (o *Orchestrator) Cancel(ctx context.Context, userID string) error {
	o.mu.Lock()
	o.draining[userID] = struct{}{}
	var done []chan struct{}
	for k, p := range o.pairs {
		if k.user != userID {
			continue
		}
		p.stopRearm()
		if !p.running {
			continue
		}
		p.rerun = false
		p.cancel()
		done = append(done, p.done)
	}
	o.mu.Unlock()

	for _, d := range done {
		select {
		case <-d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Release lifts the fence Cancel put on userID.
func (o *Orchestrator) Release(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.draining, userID)
}

// Shutdown cancels all sessions, waits for them, and closes Events.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for _, p := range o.pairs {
		p.stopRearm()
		if p.running {
			p.rerun = false
			p.cancel()
		}
	}
	o.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		close(o.events)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
