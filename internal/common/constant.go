// Package common contains shared constants, sentinel errors and small helpers
// used by both the ledgersync client and the sync backend.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// MaxPushBatch is the largest number of records a single push may carry.
const MaxPushBatch = 100
