package config

import (
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/filex"
)

// Config holds runtime settings for the ledgersync client.
//
// Fields:
//   - ServerEndpointAddr: host:port of the backend gRPC endpoint.
//   - DBPath: SQLite file holding the local store.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - SyncDebounce: quiet period after reconnecting before sync starts.
//   - RemoteTimeout: per-call deadline for backend requests.
//   - BackoffMin / BackoffMax / MaxRetries: retry schedule for failed syncs.
//   - PushBatchSize: records per push call.
//   - DeletePolicy: "delete_wins" or "timestamp_wins".
//   - LogFile: when set, logs go to this rotated file instead of stderr.
//   - LogBackend: "slog" or "zap".
type Config struct {
	ServerEndpointAddr  string
	DBPath              string
	OnlineCheckInterval time.Duration
	SyncDebounce        time.Duration
	RemoteTimeout       time.Duration
	BackoffMin          time.Duration
	BackoffMax          time.Duration
	MaxRetries          int
	PushBatchSize       int
	DeletePolicy        string
	LogFile             string
	LogBackend          string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.DBPath = filepath.Join(filex.DefaultDataDir(), "ledgersync.db")
	c.OnlineCheckInterval = 5 * time.Second
	c.SyncDebounce = 1500 * time.Millisecond
	c.RemoteTimeout = 10 * time.Second
	c.BackoffMin = 2 * time.Second
	c.BackoffMax = 60 * time.Second
	c.MaxRetries = 5
	c.PushBatchSize = 100
	c.DeletePolicy = "delete_wins"
	c.LogFile = filepath.Join(filex.DefaultDataDir(), "ledgersync.log")
	c.LogBackend = "slog"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
