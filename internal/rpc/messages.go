package rpc

import "encoding/json"

// Rejection reasons returned per record in PushResponse.
const (
	ReasonConflict = "conflict"
	ReasonInvalid  = "invalid"
	ReasonNotFound = "not_found"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
}

type RegisterResponse struct{}

type GetSaltRequest struct {
	Username string `json:"username"`
}

type GetSaltResponse struct {
	Salt []byte `json:"salt"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Verifier []byte `json:"verifier"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	// ExpiresAt is unix seconds.
	ExpiresAt int64 `json:"expires_at"`
}

// RemoteRecord is a record as stored by the server. Timestamps are unix
// microseconds on the server's per-user clock.
type RemoteRecord struct {
	RemoteID  string          `json:"remote_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt int64           `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
}

type PullRequest struct {
	EntityType string `json:"entity_type"`
	Since      int64  `json:"since"`
}

type PullResponse struct {
	Records    []RemoteRecord `json:"records"`
	ServerTime int64          `json:"server_time"`
}

// PushRecord carries one dirty local record. BaseUpdatedAt is the last
// server timestamp the client saw for it (zero for never-pushed records).
type PushRecord struct {
	LocalID       int64           `json:"local_id"`
	RemoteID      string          `json:"remote_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	UpdatedAt     int64           `json:"updated_at"`
	BaseUpdatedAt int64           `json:"base_updated_at,omitempty"`
	Deleted       bool            `json:"deleted"`
}

type PushRequest struct {
	EntityType string       `json:"entity_type"`
	DeviceID   string       `json:"device_id"`
	Records    []PushRecord `json:"records"`
}

type Accepted struct {
	LocalID         int64  `json:"local_id"`
	RemoteID        string `json:"remote_id"`
	RemoteUpdatedAt int64  `json:"remote_updated_at"`
}

// Rejected may name the server record the push collided with; a repeated
// create of an already stored record carries its id and timestamp.
type Rejected struct {
	LocalID         int64  `json:"local_id"`
	Reason          string `json:"reason"`
	RemoteID        string `json:"remote_id,omitempty"`
	RemoteUpdatedAt int64  `json:"remote_updated_at,omitempty"`
}

type PushResponse struct {
	Accepted []Accepted `json:"accepted"`
	Rejected []Rejected `json:"rejected"`
}
