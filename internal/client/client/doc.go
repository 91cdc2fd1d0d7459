// Package client is the ledgersync client's side of the wire.
//
// # Overview
//
// The package provides:
//  1. The Remote contract the sync orchestrator depends on (PullSince,
//     PushBatch) and the wider Client contract used for account flows
//     (Register, GetSalt, Login) and connectivity probing (Ping).
//  2. GRPCClient, the implementation over ledgersync.v1.SyncService. It
//     injects the session token through a unary interceptor, bounds every
//     call with a timeout, and maps gRPC status codes to sentinel errors.
//  3. Local persistence bootstrap (InitDatabase, RunMigrations): opens the
//     SQLite database and applies the embedded goose migrations.
//
// # Error Handling
//
// Remote failures wrap ErrNetwork, ErrAuth or ErrServer. Request-level
// outcomes wrap common.ErrorAlreadyExists, common.ErrorNotFound or
// common.ErrorValidation. Match with errors.Is.
//
// Concurrency & Contexts
//
// GRPCClient is safe for concurrent use. All operations accept a
// context.Context and honor cancellation on top of the per-call timeout.
package client
