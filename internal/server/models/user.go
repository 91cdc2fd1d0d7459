// Package models holds server-side persistence types.
package models

import "time"

type User struct {
	ID       string
	UserName string
	Salt     []byte
	Verifier []byte
	// Clock is the user's monotonic sync clock in unix microseconds.
	Clock     int64
	CreatedAt time.Time
}

// Session is an issued access token.
type Session struct {
	AccessToken string
	UserID      string
	ExpiresAt   time.Time
}
