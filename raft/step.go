package raft

import (
	"sort"

	"github.com/gyuho/brokerd/raftpb"
)

// stepLocked dispatches an inbound message to the appropriate handler
// given the node's current term and role.
func (r *raftState) stepLocked(msg raftpb.Message) {
	switch {
	case msg.Term == 0:
		// internal trigger, term-less
	case msg.Term > r.term:
		leader := NoLeader
		if msg.Type == raftpb.MsgAppendEntries {
			leader = msg.From
		}
		logger.Infof("node %d saw higher term %d (had %d), becoming follower", r.id, msg.Term, r.term)
		r.becomeFollowerLocked(msg.Term, leader)
	case msg.Term < r.term:
		// stale message; reject where a reply is expected, otherwise drop.
		switch msg.Type {
		case raftpb.MsgRequestVote:
			r.send(raftpb.Message{Type: raftpb.MsgRequestVoteResponse, To: msg.From, VoteGranted: false})
		case raftpb.MsgAppendEntries:
			r.send(raftpb.Message{Type: raftpb.MsgAppendEntriesResponse, To: msg.From, Success: false})
		}
		return
	}

	switch msg.Type {
	case raftpb.MsgHup:
		r.campaignLocked()
	case raftpb.MsgRequestVote:
		r.handleRequestVoteLocked(msg)
	case raftpb.MsgRequestVoteResponse:
		if r.role == raftpb.StateCandidate {
			r.handleRequestVoteResponseLocked(msg)
		}
	case raftpb.MsgAppendEntries:
		r.becomeFollowerLocked(r.term, msg.From) // valid leader in this term
		r.handleAppendEntriesLocked(msg)
	case raftpb.MsgAppendEntriesResponse:
		if r.role == raftpb.StateLeader {
			r.handleAppendEntriesResponseLocked(msg)
		}
	case raftpb.MsgBeat:
		if r.role == raftpb.StateLeader {
			r.bcastHeartbeatLocked()
		}
	}
}

func (r *raftState) handleRequestVoteLocked(msg raftpb.Message) {
	lastIndex := r.lastIndexLocked()
	lastTerm := r.lastTermLocked()
	upToDate := msg.LastLogTerm > lastTerm || (msg.LastLogTerm == lastTerm && msg.LastLogIndex >= lastIndex)
	canVote := r.vote == NoNodeID || r.vote == msg.From

	grant := canVote && upToDate
	if grant {
		r.vote = msg.From
		r.electionElapsed = 0
		r.persistHardStateLocked()
	}
	logger.Infof("node %d vote request from %d term %d: granted=%v", r.id, msg.From, msg.Term, grant)
	r.send(raftpb.Message{Type: raftpb.MsgRequestVoteResponse, To: msg.From, VoteGranted: grant})
}

func (r *raftState) handleRequestVoteResponseLocked(msg raftpb.Message) {
	r.votesReceived[msg.From] = msg.VoteGranted

	granted := 0
	for _, v := range r.votesReceived {
		if v {
			granted++
		}
	}
	need := quorumSize(r.electorate)
	if granted >= need {
		r.becomeLeaderLocked()
		return
	}

	rejected := 0
	for _, v := range r.votesReceived {
		if !v {
			rejected++
		}
	}
	if rejected >= need {
		// Cannot win this election; stay a candidate and wait for the
		// next randomized timeout to retry with a new term.
		r.becomeFollowerLocked(r.term, NoLeader)
		r.role = raftpb.StateCandidate
	}
}

func (r *raftState) handleAppendEntriesLocked(msg raftpb.Message) {
	r.electionElapsed = 0

	if msg.PrevLogIndex > 0 {
		term, ok := r.termAtLocked(msg.PrevLogIndex)
		if !ok || term != msg.PrevLogTerm {
			hint := r.lastIndexLocked()
			r.send(raftpb.Message{
				Type:          raftpb.MsgAppendEntriesResponse,
				To:            msg.From,
				Success:       false,
				ConflictIndex: msg.PrevLogIndex,
				ConflictTerm:  term,
				LogIndex:      hint,
			})
			return
		}
	}

	if len(msg.Entries) > 0 {
		// Truncate any conflicting suffix before appending, per the
		// log matching property.
		keep := 0
		for i, e := range msg.Entries {
			t, ok := r.termAtLocked(e.Index)
			if !ok {
				keep = i
				break
			}
			if t != e.Term {
				r.truncateLogLocked(e.Index)
				keep = i
				break
			}
			keep = i + 1
		}
		newEntries := msg.Entries[keep:]
		if len(newEntries) > 0 {
			if err := r.storage.Append(newEntries...); err != nil {
				logger.Panicf("raft: failed to persist replicated entries: %v", err)
			}
			r.log = append(r.log, newEntries...)
		}
	}

	if msg.LeaderCommit > r.commitIndex {
		lastNew := msg.PrevLogIndex + uint64(len(msg.Entries))
		if lastNew > msg.LeaderCommit {
			lastNew = msg.LeaderCommit
		}
		r.commitIndex = maxUint64(r.commitIndex, minUint64(msg.LeaderCommit, lastNew))
	}

	r.send(raftpb.Message{
		Type:     raftpb.MsgAppendEntriesResponse,
		To:       msg.From,
		Success:  true,
		LogIndex: r.lastIndexLocked(),
	})
}

// truncateLogLocked drops every persisted entry at or after index; it
// is only ever called with an index inside the current in-memory log.
func (r *raftState) truncateLogLocked(index uint64) {
	for i, e := range r.log {
		if e.Index == index {
			r.log = r.log[:i]
			return
		}
	}
}

func (r *raftState) handleAppendEntriesResponseLocked(msg raftpb.Message) {
	pr, ok := r.peers[msg.From]
	if !ok {
		return
	}

	if !msg.Success {
		pr.maybeDecrease(msg.ConflictIndex, msg.LogIndex)
		r.sendAppendLocked(msg.From)
		return
	}

	if pr.maybeUpdate(msg.LogIndex) {
		r.maybeCommitLocked()
		r.sendAppendLocked(msg.From)
	}
}

// maybeCommitLocked advances commitIndex to the highest N such that a
// strict majority of match indices are >= N and log[N].Term is the
// current term.
func (r *raftState) maybeCommitLocked() {
	matches := make([]uint64, 0, len(r.peers)+1)
	matches = append(matches, r.lastIndexLocked()) // self
	for _, p := range r.peers {
		m, _, _ := p.snapshot()
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })

	need := quorumSize(r.electorate)
	if need > len(matches) {
		return
	}
	n := matches[need-1]
	if n <= r.commitIndex {
		return
	}
	if term, ok := r.termAtLocked(n); ok && term == r.term {
		r.commitIndex = n
	}
}

func (r *raftState) bcastAppendLocked() {
	for id := range r.peers {
		r.sendAppendLocked(id)
	}
}

func (r *raftState) sendAppendLocked(to uint64) {
	pr := r.peers[to]
	_, next, _ := pr.snapshot()

	prevIndex := next - 1
	prevTerm, _ := r.termAtLocked(prevIndex)

	var entries []raftpb.Entry
	last := r.lastIndexLocked()
	if next <= last {
		hi := last
		if hi-next+1 > r.maxEntriesPerMsg {
			hi = next + r.maxEntriesPerMsg - 1
		}
		for _, e := range r.log {
			if e.Index >= next && e.Index <= hi {
				entries = append(entries, e)
			}
		}
	}

	r.send(raftpb.Message{
		Type:         raftpb.MsgAppendEntries,
		To:           to,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: r.commitIndex,
	})
}

func (r *raftState) bcastHeartbeatLocked() {
	for id := range r.peers {
		pr := r.peers[id]
		_, next, _ := pr.snapshot()
		prevIndex := next - 1
		prevTerm, _ := r.termAtLocked(prevIndex)
		r.send(raftpb.Message{
			Type:         raftpb.MsgAppendEntries,
			To:           id,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			LeaderCommit: r.commitIndex,
		})
	}
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
