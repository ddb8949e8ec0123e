// Package membership implements Cluster Membership: discovery of
// known peers without a static config file, liveness tracking, and
// grace-window LOST marking for a peer that stops responding.
// Discovery is exposed as a narrow capability interface: the default
// implementation scans a port range, tests inject a static set.
//
// (gyuho-db/pkg/probing for liveness probing, gyuho-db/pkg/netutil for
// dial/port utilities; interface-first shape modeled on the habit of
// defining a narrow capability interface with one production and one
// test-only implementation, e.g. raft.StorageStable / raft.MemoryStorage)
package membership

import (
	"sync"
	"time"
)

// Peer describes one cluster member.
type Peer struct {
	NodeID        uint64
	Host          string
	ClientPort    int
	PeerRPCPort   int
	AdminHTTPPort int
	LastSeen      time.Time
}

// Discovery is the peer discovery capability. The production
// implementation is ScanDiscovery; tests use StaticDiscovery.
type Discovery interface {
	// KnownPeers returns the current live peer set, excluding self and
	// excluding any peer marked LOST.
	KnownPeers() []Peer

	// ElectionSnapshot returns a copy of the live peer set taken at the
	// moment of the call; later discovery updates do not change the
	// returned slice. The raft core does not call it: quorum arithmetic
	// uses raft's own per-term electorate count.
	ElectionSnapshot() []Peer

	// Self returns this node's own Peer record.
	Self() Peer

	// Close stops any background scanning.
	Close()
}

type peerRecord struct {
	peer     Peer
	lastOK   time.Time
	lost     bool
}

func clonePeers(m map[uint64]*peerRecord, includeLost bool) []Peer {
	out := make([]Peer, 0, len(m))
	for _, r := range m {
		if r.lost && !includeLost {
			continue
		}
		out = append(out, r.peer)
	}
	return out
}

// StaticDiscovery is a fixed peer set for tests, satisfying Discovery
// without any network activity.
type StaticDiscovery struct {
	self  Peer
	mu    sync.RWMutex
	peers map[uint64]*peerRecord
}

// NewStaticDiscovery returns a Discovery whose known peer set never
// changes except through explicit calls to Set.
func NewStaticDiscovery(self Peer, peers []Peer) *StaticDiscovery {
	d := &StaticDiscovery{self: self, peers: make(map[uint64]*peerRecord)}
	now := time.Now()
	for _, p := range peers {
		p.LastSeen = now
		d.peers[p.NodeID] = &peerRecord{peer: p, lastOK: now}
	}
	return d
}

// Set replaces the known peer set, for tests simulating topology
// change.
func (d *StaticDiscovery) Set(peers []Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers = make(map[uint64]*peerRecord, len(peers))
	now := time.Now()
	for _, p := range peers {
		p.LastSeen = now
		d.peers[p.NodeID] = &peerRecord{peer: p, lastOK: now}
	}
}

// MarkLost marks id as LOST for tests exercising quorum arithmetic
// around partial failure.
func (d *StaticDiscovery) MarkLost(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.peers[id]; ok {
		r.lost = true
	}
}

func (d *StaticDiscovery) KnownPeers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return clonePeers(d.peers, false)
}

func (d *StaticDiscovery) ElectionSnapshot() []Peer { return d.KnownPeers() }

func (d *StaticDiscovery) Self() Peer { return d.self }

func (d *StaticDiscovery) Close() {}
