package raft

import (
	"errors"

	"github.com/gyuho/brokerd/raftpb"
)

// ErrCompacted is returned by Storage.Entries/Term when the requested
// index precedes the first entry retained by storage.
var ErrCompacted = errors.New("raft: requested index is unavailable due to compaction")

// ErrUnavailable is returned when the requested log entries are not
// available in storage.
var ErrUnavailable = errors.New("raft: requested entry is unavailable")

// StorageStable is the durability boundary between the raft core and
// the node's embedded database. A node's log.StorageStable
// implementation must fsync Append and SetHardState before returning,
// since the raft core relies on their return to mean "durable".
//
// (etcd raft.Storage, narrowed: no snapshot methods, since this
// module never compacts or installs snapshots)
type StorageStable interface {
	// GetHardState returns the last persisted HardState.
	GetHardState() (raftpb.HardState, error)

	// SetHardState persists st, overwriting whatever was stored.
	SetHardState(st raftpb.HardState) error

	// FirstIndex returns the index of the oldest entry in storage.
	FirstIndex() (uint64, error)

	// LastIndex returns the index of the newest entry in storage.
	LastIndex() (uint64, error)

	// Term returns the term of the entry at index.
	Term(index uint64) (uint64, error)

	// Entries returns the entries in [lo, hi).
	Entries(lo, hi uint64) ([]raftpb.Entry, error)

	// Append persists entries, overwriting any conflicting suffix
	// already in storage.
	Append(entries ...raftpb.Entry) error
}
