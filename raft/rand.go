package raft

import (
	"math/rand"
	"sync"
	"time"
)

// lockedRand wraps rand.Rand with a mutex so every Node in a process
// can share one source instead of paying for a new one each.
//
// (gyuho-db/raft.lockedRand)
type lockedRand struct {
	mu   sync.Mutex
	rand *rand.Rand
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	v := r.rand.Intn(n)
	r.mu.Unlock()
	return v
}

var globalRand = &lockedRand{
	rand: rand.New(rand.NewSource(time.Now().UnixNano())),
}
