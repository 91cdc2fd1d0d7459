// Package netmon watches connectivity to the sync backend and triggers sync
// sessions when the client comes back online.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/logging"
)

const (
	DefaultInterval     = 5 * time.Second
	DefaultDebounce     = 1500 * time.Millisecond
	DefaultProbeTimeout = 3 * time.Second
)

// Prober checks whether the backend is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Syncer is the part of the orchestrator the monitor drives.
type Syncer interface {
	EntityTypes() []string
	Trigger(userID, entityType string)
}

type Config struct {
	// Interval between probes; zero disables probing, leaving Report as the
	// only source of observations.
	Interval     time.Duration
	Debounce     time.Duration
	ProbeTimeout time.Duration
}

// Monitor turns raw connectivity observations into debounced sync triggers.
type Monitor struct {
	prober Prober
	syncer Syncer
	user   func() string
	log    logging.Logger
	cfg    Config

	reports chan bool

	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
}

// New creates a monitor. user returns the id of the signed-in user, or "".
func New(prober Prober, syncer Syncer, user func() string, log logging.Logger, cfg Config) *Monitor {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Monitor{
		prober:  prober,
		syncer:  syncer,
		user:    user,
		log:     log.With("module", "netmon"),
		cfg:     cfg,
		reports: make(chan bool, 16),
	}
}

// OnChange registers fn to be called on every online/offline transition.
// Must be called before Run.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Online reports the last observed connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Report feeds an external observation (e.g. from the OS or the user).
// It never blocks; when the queue is full the observation is dropped and the
// next probe corrects the state.
func (m *Monitor) Report(online bool) {
	select {
	case m.reports <- online:
	default:
		m.log.Warn(context.Background(), "connectivity report dropped", "online", online)
	}
}

// Run processes observations until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	debounce := time.NewTimer(m.cfg.Debounce)
	debounce.Stop()
	defer debounce.Stop()
	pending := false

	var tick <-chan time.Time
	if m.prober != nil && m.cfg.Interval > 0 {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
		if m.observe(ctx, m.probe(ctx)) {
			debounce.Reset(m.cfg.Debounce)
			pending = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-tick:
			if m.observe(ctx, m.probe(ctx)) {
				debounce.Reset(m.cfg.Debounce)
				pending = true
			} else if !m.Online() && pending {
				debounce.Stop()
				pending = false
			}

		case online := <-m.reports:
			if m.observe(ctx, online) {
				debounce.Reset(m.cfg.Debounce)
				pending = true
			} else if !online && pending {
				debounce.Stop()
				pending = false
			}

		case <-debounce.C:
			pending = false
			if m.Online() {
				m.triggerAll(ctx)
			}
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	if err := m.prober.Ping(pctx); err != nil {
		m.log.Debug(ctx, "backend probe failed", "error", err)
		return false
	}
	return true
}

// observe records an observation and reports whether it was an
// offline-to-online transition.
func (m *Monitor) observe(ctx context.Context, online bool) bool {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	listeners := m.listeners
	m.mu.Unlock()

	if !changed {
		return false
	}
	if online {
		m.log.Info(ctx, "switched to online mode")
	} else {
		m.log.Info(ctx, "switched to offline mode")
	}
	for _, fn := range listeners {
		fn(online)
	}
	return online
}

func (m *Monitor) triggerAll(ctx context.Context) {
	userID := m.user()
	if userID == "" {
		m.log.Debug(ctx, "back online, no signed-in user")
		return
	}
	for _, et := range m.syncer.EntityTypes() {
		m.log.Debug(ctx, "back online, triggering sync", "user", userID, "entity", et)
		m.syncer.Trigger(userID, et)
	}
}
