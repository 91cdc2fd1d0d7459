package syncer

import (
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
)

// Resolution is the outcome of comparing a local record with its server copy.
type Resolution int

const (
	// KeepLocal leaves the local row as is; a dirty row will be pushed.
	KeepLocal Resolution = iota
	// AdoptRemote overwrites (or, for a tombstone, purges) the local row.
	AdoptRemote
	// Merge is reserved for field-level merging and is never produced for
	// whole-record entities.
	Merge
)

func (r Resolution) String() string {
	switch r {
	case KeepLocal:
		return "keep_local"
	case AdoptRemote:
		return "adopt_remote"
	case Merge:
		return "merge"
	}
	return fmt.Sprintf("resolution(%d)", int(r))
}

// DeletePolicy decides a dirty local edit against a remote tombstone.
type DeletePolicy int

const (
	// DeleteWins: a remote tombstone beats any local edit.
	DeleteWins DeletePolicy = iota
	// TimestampWins: the tombstone is an ordinary timestamped write.
	TimestampWins
)

func (p DeletePolicy) String() string {
	if p == TimestampWins {
		return "timestamp_wins"
	}
	return "delete_wins"
}

// ParseDeletePolicy accepts "delete_wins" (or "") and "timestamp_wins".
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch s {
	case "", "delete_wins":
		return DeleteWins, nil
	case "timestamp_wins":
		return TimestampWins, nil
	}
	return DeleteWins, fmt.Errorf("unknown delete policy %q", s)
}

// Resolve is last-write-wins with the server winning ties.
//
// A local row whose baseline already covers the remote copy is kept
// untouched, which makes repeated pulls of the same data (including the echo
// of our own pushes) no-ops.
func Resolve[P any](local models.SyncableRecord[P], remote models.RemoteRecord, policy DeletePolicy) Resolution {
	seen := local.RemoteID != "" && !remote.UpdatedAt.After(local.RemoteUpdatedAt)
	if !local.Dirty {
		if seen {
			return KeepLocal
		}
		return AdoptRemote
	}
	if seen {
		return KeepLocal
	}

	if remote.Deleted && !local.Deleted && policy == DeleteWins {
		return AdoptRemote
	}
	if remote.Deleted && local.Deleted {
		return AdoptRemote
	}

	if local.UpdatedAt.After(remote.UpdatedAt) {
		return KeepLocal
	}
	return AdoptRemote
}
