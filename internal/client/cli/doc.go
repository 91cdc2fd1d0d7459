// Package cli provides the interactive ledgersync command-line client.
//
// It wires configuration and the sync engine to a small REPL that works
// online and offline. Categories are edited locally and pushed by the engine
// whenever the backend is reachable; the CLI never talks to the server
// directly.
//
// Key features:
//   - Register / Login / Logout (online with offline fallback)
//   - Add, rename, recolor, delete and list categories
//   - Manual sync and per-entity sync status
//   - Manual connectivity reports (online / offline)
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
