package raft

import (
	"fmt"
	"sync"

	"github.com/gyuho/brokerd/pkg/xlog"
	"github.com/gyuho/brokerd/raftpb"
)

var logger = xlog.NewLogger("raft", xlog.INFO)

// raftState is the mutex-guarded core: role, term, log and
// commit/apply indices live under one lock; per-peer replication
// state lives under its own lock (progress.mu).
//
// (gyuho-db/raft's raftNode, collapsed from a channel-actor design to
// a single mutex)
type raftState struct {
	mu sync.Mutex

	id      uint64
	term    uint64
	vote    uint64
	role    raftpb.StateType
	leader  uint64
	storage StorageStable

	// log is an in-memory mirror of every entry durably appended to
	// storage, indexed so log[i].Index == i+1 for i>=0; log[-1] is
	// represented implicitly by firstIndex/lastIndex bookkeeping.
	log []raftpb.Entry

	commitIndex uint64

	peers    map[uint64]*progress
	allPeers []uint64

	// electorate is the cluster size quorum arithmetic is computed
	// against. It is snapshotted once per term (resetLocked) and held
	// fixed through that term's campaign and ensuing leadership, so a
	// concurrent AddPeer/RemovePeer landing mid-election or mid-commit
	// can't shift the quorum threshold out from under an in-flight
	// vote count or commit check.
	electorate int

	electionTimeoutTicks    int
	heartbeatTimeoutTicks   int
	electionElapsed         int
	heartbeatElapsed        int
	randomizedElectionTicks int

	votesReceived map[uint64]bool

	// msgs accumulates outbound messages produced by the most recent
	// Tick/Step/Propose/Campaign call; Node.Ready drains it.
	msgs []raftpb.Message

	maxEntriesPerMsg uint64
}

func newRaftState(c *Config) *raftState {
	r := &raftState{
		id:                    c.ID,
		storage:               c.Storage,
		peers:                 make(map[uint64]*progress),
		electionTimeoutTicks:  c.ElectionTickNum,
		heartbeatTimeoutTicks: c.HeartbeatTickNum,
		maxEntriesPerMsg:      c.MaxEntriesPerMsg,
	}

	hs, err := c.Storage.GetHardState()
	if err != nil {
		logger.Panicf("raft: failed to load hard state: %v", err)
	}
	r.term = hs.Term
	r.vote = hs.VotedFor

	last, err := c.Storage.LastIndex()
	if err != nil {
		logger.Panicf("raft: failed to load last index: %v", err)
	}
	if last > 0 {
		first, _ := c.Storage.FirstIndex()
		ents, err := c.Storage.Entries(first, last+1)
		if err != nil {
			logger.Panicf("raft: failed to replay log: %v", err)
		}
		r.log = ents
	}

	for _, id := range c.PeerIDs {
		r.addPeerLocked(id)
	}
	r.becomeFollowerLocked(r.term, NoLeader)
	return r
}

func (r *raftState) addPeerLocked(id uint64) {
	if id == r.id {
		r.allPeers = append(r.allPeers, id)
		return
	}
	if _, ok := r.peers[id]; ok {
		return
	}
	r.peers[id] = newProgress(r.lastIndexLocked() + 1)
	r.allPeers = append(r.allPeers, id)
}

func (r *raftState) removePeerLocked(id uint64) {
	delete(r.peers, id)
	for i, p := range r.allPeers {
		if p == id {
			r.allPeers = append(r.allPeers[:i], r.allPeers[i+1:]...)
			break
		}
	}
}

func (r *raftState) lastIndexLocked() uint64 {
	if len(r.log) == 0 {
		return 0
	}
	return r.log[len(r.log)-1].Index
}

func (r *raftState) lastTermLocked() uint64 {
	if len(r.log) == 0 {
		return 0
	}
	return r.log[len(r.log)-1].Term
}

func (r *raftState) termAtLocked(index uint64) (uint64, bool) {
	if index == 0 {
		return 0, true
	}
	if index > r.lastIndexLocked() {
		return 0, false
	}
	// log[0].Index is not necessarily 1 once persisted entries exist
	// from a previous leader; locate by scanning from the end since
	// slices are small relative to disk page sizes in this workload.
	for i := len(r.log) - 1; i >= 0; i-- {
		if r.log[i].Index == index {
			return r.log[i].Term, true
		}
	}
	return 0, false
}

// entriesLocked returns the entries in [lo, hi] from the in-memory
// log mirror.
func (r *raftState) entriesLocked(lo, hi uint64) []raftpb.Entry {
	if lo > hi {
		return nil
	}
	var out []raftpb.Entry
	for _, e := range r.log {
		if e.Index >= lo && e.Index <= hi {
			out = append(out, e)
		}
	}
	return out
}

// quorumSize returns the strict majority of a cluster of n nodes. Vote
// counting and commit advancement pass the per-term electorate;
// hasQuorumLocked passes the live cluster size.
func quorumSize(n int) int {
	return n/2 + 1
}

func (r *raftState) clusterSizeLocked() int {
	return len(r.allPeers)
}

func (r *raftState) resetLocked(term uint64) {
	if r.term != term {
		r.term = term
		r.vote = NoNodeID
	}
	r.leader = NoLeader
	r.electionElapsed = 0
	r.heartbeatElapsed = 0
	r.randomizedElectionTicks = r.electionTimeoutTicks + globalRand.Intn(r.electionTimeoutTicks)
	r.votesReceived = make(map[uint64]bool)
	r.electorate = r.clusterSizeLocked()
	for _, p := range r.peers {
		p.mu.Lock()
		p.matchIndex = 0
		p.nextIndex = r.lastIndexLocked() + 1
		p.active = false
		p.mu.Unlock()
	}
}

func (r *raftState) becomeFollowerLocked(term, leader uint64) {
	r.resetLocked(term)
	r.role = raftpb.StateFollower
	r.leader = leader
	logger.Infof("node %d became follower at term %d (leader=%d)", r.id, r.term, r.leader)
}

func (r *raftState) becomeCandidateLocked() {
	if r.role == raftpb.StateLeader {
		logger.Panicf("raft: leader cannot transition directly to candidate")
	}
	r.resetLocked(r.term + 1)
	r.role = raftpb.StateCandidate
	r.vote = r.id
	r.votesReceived[r.id] = true
	r.persistHardStateLocked()
	logger.Infof("node %d became candidate at term %d", r.id, r.term)
}

func (r *raftState) becomeLeaderLocked() {
	if r.role != raftpb.StateCandidate {
		logger.Panicf("raft: only a candidate can become leader")
	}
	r.role = raftpb.StateLeader
	r.leader = r.id
	r.electionElapsed = 0
	r.heartbeatElapsed = 0
	for _, p := range r.peers {
		p.mu.Lock()
		p.nextIndex = r.lastIndexLocked() + 1
		p.matchIndex = 0
		p.mu.Unlock()
	}
	logger.Infof("node %d became leader at term %d", r.id, r.term)

	// Append a NOOP entry in the new term so any carried-over entries
	// from earlier terms can be committed transitively.
	r.appendEntriesLocked(raftpb.Entry{Kind: raftpb.EntryNoop})
	r.bcastAppendLocked()
}

func (r *raftState) persistHardStateLocked() {
	if err := r.storage.SetHardState(raftpb.HardState{Term: r.term, VotedFor: r.vote}); err != nil {
		logger.Panicf("raft: failed to persist hard state: %v", err)
	}
}

// appendEntriesLocked appends entries locally at the next index(es)
// in the current term and persists them before they are ever sent.
func (r *raftState) appendEntriesLocked(entries ...raftpb.Entry) {
	last := r.lastIndexLocked()
	for i := range entries {
		entries[i].Term = r.term
		entries[i].Index = last + 1 + uint64(i)
	}
	if err := r.storage.Append(entries...); err != nil {
		logger.Panicf("raft: failed to persist log entries: %v", err)
	}
	r.log = append(r.log, entries...)
	if r.role == raftpb.StateLeader {
		if pr, ok := r.peers[r.id]; ok {
			pr.maybeUpdate(r.lastIndexLocked())
		}
	}
}

func (r *raftState) send(msg raftpb.Message) {
	msg.From = r.id
	msg.Term = r.term
	r.msgs = append(r.msgs, msg)
}

// campaignLocked starts an election: increment term, vote for self,
// request votes from every known peer.
func (r *raftState) campaignLocked() {
	r.becomeCandidateLocked()

	if quorumSize(r.electorate) == 1 {
		r.becomeLeaderLocked()
		return
	}

	lastIndex := r.lastIndexLocked()
	lastTerm := r.lastTermLocked()
	for id := range r.peers {
		r.send(raftpb.Message{
			Type:         raftpb.MsgRequestVote,
			To:           id,
			LastLogIndex: lastIndex,
			LastLogTerm:  lastTerm,
		})
	}
}

func (r *raftState) tickLocked() {
	switch r.role {
	case raftpb.StateLeader:
		r.heartbeatElapsed++
		if r.heartbeatElapsed >= r.heartbeatTimeoutTicks {
			r.heartbeatElapsed = 0
			r.bcastHeartbeatLocked()
		}
		r.electionElapsed++
		if r.electionElapsed >= r.electionTimeoutTicks {
			r.electionElapsed = 0
			if !r.hasQuorumLocked() {
				logger.Warningf("node %d lost quorum, stepping down", r.id)
				r.becomeFollowerLocked(r.term, NoLeader)
			} else {
				// Age out this window's liveness so a peer gone silent
				// drops out of the next window's quorum check instead
				// of being counted forever.
				for _, p := range r.peers {
					p.clearActive()
				}
			}
		}
	default:
		r.electionElapsed++
		if r.electionElapsed >= r.randomizedElectionTicks {
			r.electionElapsed = 0
			r.campaignLocked()
		}
	}
}

func (r *raftState) hasQuorumLocked() bool {
	active := 1 // self
	for _, p := range r.peers {
		if _, _, ok := p.snapshot(); ok {
			active++
		}
	}
	return active >= quorumSize(r.clusterSizeLocked())
}

func (r *raftState) String() string {
	return fmt.Sprintf("node=%d term=%d role=%s leader=%d commit=%d", r.id, r.term, r.role, r.leader, r.commitIndex)
}
