package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/flagx"
	"github.com/dmitrijs2005/ledgersync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	DBPath              string         `json:"db_path"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	SyncDebounce        timex.Duration `json:"sync_debounce"`
	RemoteTimeout       timex.Duration `json:"remote_timeout"`
	BackoffMin          timex.Duration `json:"backoff_min"`
	BackoffMax          timex.Duration `json:"backoff_max"`
	MaxRetries          *int           `json:"max_retries"`
	PushBatchSize       int            `json:"push_batch_size"`
	DeletePolicy        string         `json:"delete_policy"`
	LogFile             *string        `json:"log_file"`
	LogBackend          string         `json:"log_backend"`
}

// parseJson overlays Config with values loaded from the JSON file given by
// -c or -config. Only keys present in the file are applied; read or
// unmarshal errors panic.
//
// log_file and max_retries are pointers so an explicit "" or 0 is applied.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.DBPath, jc.DBPath)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.SyncDebounce, jc.SyncDebounce)
	setDuration(&cfg.RemoteTimeout, jc.RemoteTimeout)
	setDuration(&cfg.BackoffMin, jc.BackoffMin)
	setDuration(&cfg.BackoffMax, jc.BackoffMax)
	if jc.MaxRetries != nil {
		cfg.MaxRetries = *jc.MaxRetries
	}
	if jc.PushBatchSize != 0 {
		cfg.PushBatchSize = jc.PushBatchSize
	}
	setString(&cfg.DeletePolicy, jc.DeletePolicy)
	if jc.LogFile != nil {
		cfg.LogFile = *jc.LogFile
	}
	setString(&cfg.LogBackend, jc.LogBackend)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
