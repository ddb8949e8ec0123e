package raft

import "sync"

// progress is the leader's view of one follower's replication state.
// Each progress has its own lock: per-peer state never shares the
// core raftState lock.
//
// (gyuho-db/raft.Progress, stripped of PROBE/REPLICATE/SNAPSHOT states
// and inflight tracking, since this module never snapshots)
type progress struct {
	mu sync.Mutex

	matchIndex uint64
	nextIndex  uint64
	// active is set to true when an AppendEntries response from the
	// peer arrives and cleared by the leader after each election
	// timeout window in which it still held quorum, so the leader can
	// notice a dead quorum.
	active bool
}

func newProgress(nextIndex uint64) *progress {
	return &progress{nextIndex: nextIndex}
}

func (pr *progress) maybeUpdate(index uint64) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	updated := false
	if pr.matchIndex < index {
		pr.matchIndex = index
		updated = true
	}
	if pr.nextIndex <= index {
		pr.nextIndex = index + 1
	}
	pr.active = true
	return updated
}

// maybeDecrease lowers nextIndex in response to a rejected
// AppendEntries; it returns false if the rejection is stale.
func (pr *progress) maybeDecrease(rejectIndex, hint uint64) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if rejectIndex <= pr.matchIndex {
		return false
	}
	next := hint + 1
	if next < 1 {
		next = 1
	}
	pr.nextIndex = next
	pr.active = true
	return true
}

func (pr *progress) snapshot() (match, next uint64, active bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.matchIndex, pr.nextIndex, pr.active
}

func (pr *progress) clearActive() {
	pr.mu.Lock()
	pr.active = false
	pr.mu.Unlock()
}

func (pr *progress) markActive() {
	pr.mu.Lock()
	pr.active = true
	pr.mu.Unlock()
}
