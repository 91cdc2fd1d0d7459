package client

import "errors"

// Remote failure classes. Errors returned by Client wrap exactly one of
// these (or a common.Error* value for request-level outcomes such as a
// taken username), so callers match with errors.Is.
var (
	// ErrNetwork covers transport failures, timeouts and an unavailable server.
	ErrNetwork = errors.New("network error")

	// ErrAuth means the credentials or session token were rejected.
	ErrAuth = errors.New("authentication failed")

	// ErrServer is any other server-side failure.
	ErrServer = errors.New("server error")

	// ErrLocalDataNotAvailable is returned by offline login when no cached
	// credentials exist for the user.
	ErrLocalDataNotAvailable = errors.New("local data unavailable")
)
