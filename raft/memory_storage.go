package raft

import (
	"sync"

	"github.com/gyuho/brokerd/raftpb"
)

// MemoryStorage is a StorageStable backed by a process-memory slice.
// It is used by tests that run several raft.Node values in one
// process without touching disk.
//
// (gyuho-db/raft.StorageStableInMemory, stripped of snapshotting)
type MemoryStorage struct {
	mu sync.Mutex

	hardState raftpb.HardState
	// entries[0] is always a dummy entry at Index 0, Term 0, so that
	// entries[i].Index == i holds for every slot.
	entries []raftpb.Entry
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make([]raftpb.Entry, 1)}
}

func (ms *MemoryStorage) GetHardState() (raftpb.HardState, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.hardState, nil
}

func (ms *MemoryStorage) SetHardState(st raftpb.HardState) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.hardState = st
	return nil
}

func (ms *MemoryStorage) FirstIndex() (uint64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.entries[0].Index + 1, nil
}

func (ms *MemoryStorage) LastIndex() (uint64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastIndex(), nil
}

func (ms *MemoryStorage) lastIndex() uint64 {
	return ms.entries[len(ms.entries)-1].Index
}

func (ms *MemoryStorage) Term(index uint64) (uint64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	first := ms.entries[0].Index
	if index < first {
		return 0, ErrCompacted
	}
	if index-first >= uint64(len(ms.entries)) {
		return 0, ErrUnavailable
	}
	return ms.entries[index-first].Term, nil
}

func (ms *MemoryStorage) Entries(lo, hi uint64) ([]raftpb.Entry, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	first := ms.entries[0].Index
	if lo <= first {
		return nil, ErrCompacted
	}
	if hi-1 > ms.lastIndex() {
		return nil, ErrUnavailable
	}
	// entries[0] is the dummy at index `first`, so slot i holds index first+i.
	return append([]raftpb.Entry{}, ms.entries[lo-first:hi-first]...), nil
}

func (ms *MemoryStorage) Append(entries ...raftpb.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	first := ms.entries[0].Index
	lastNew := entries[len(entries)-1].Index
	if lastNew < first {
		return nil
	}
	if first > entries[0].Index {
		entries = entries[first-entries[0].Index:]
	}

	offset := entries[0].Index - first
	switch {
	case uint64(len(ms.entries)) > offset:
		ms.entries = append([]raftpb.Entry{}, ms.entries[:offset]...)
		ms.entries = append(ms.entries, entries...)
	case uint64(len(ms.entries)) == offset:
		ms.entries = append(ms.entries, entries...)
	default:
		panic("raft: missing log entry between storage and append")
	}

	return nil
}
