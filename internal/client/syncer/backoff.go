package syncer

import (
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultBackoffMin = 2 * time.Second
	DefaultBackoffMax = 60 * time.Second
	DefaultMaxRetries = 5
)

// BackoffFactory returns a fresh schedule for each session chain.
type BackoffFactory func() retry.Backoff

// ExponentialBackoff doubles from min up to max with ±20% jitter, giving up
// after maxRetries retries.
func ExponentialBackoff(min, max time.Duration, maxRetries uint64) BackoffFactory {
	if min <= 0 {
		min = DefaultBackoffMin
	}
	if max < min {
		max = min
	}
	return func() retry.Backoff {
		b := retry.NewExponential(min)
		b = retry.WithJitterPercent(20, b)
		b = retry.WithCappedDuration(max, b)
		return retry.WithMaxRetries(maxRetries, b)
	}
}
