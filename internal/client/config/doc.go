// Package config loads runtime configuration for the ledgersync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the backend gRPC endpoint
//	-i int      online status check interval (seconds)
//	-f string   local database file
//	-p string   delete policy
//	-l string   log file
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "db_path": "ledgersync.db",
//	  "online_check_interval": "5s",
//	  "sync_debounce": "1.5s",
//	  "remote_timeout": "10s",
//	  "backoff_min": "2s",
//	  "backoff_max": "1m",
//	  "max_retries": 5,
//	  "push_batch_size": 100,
//	  "delete_policy": "delete_wins",
//	  "log_file": "ledgersync.log",
//	  "log_backend": "slog"
//	}
package config
