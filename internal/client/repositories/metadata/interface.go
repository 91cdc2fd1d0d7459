// Package metadata is the client's durable key-value cache: auth session
// values, the device id, and per-user sync cursors.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyAuthToken = "auth_token"
	KeyUserID    = "user_id"
	KeyUsername  = "username"
	KeyDeviceID  = "device_id"
	KeySalt      = "salt"
	KeyVerifier  = "verifier"

	cursorPrefix = "sync_cursor:"
)

// Repository is a byte-valued key-value store. Get returns (nil, nil) for
// a missing key.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
