package raft

import (
	"context"
	"errors"

	"github.com/gyuho/brokerd/raftpb"
)

// ErrNotLeader is returned by Propose when called on a non-leader
// node; callers use it to trigger a redirect to the current leader.
var ErrNotLeader = errors.New("raft: not leader")

// ErrStopped is returned by calls made after the Node has been
// stopped.
var ErrStopped = errors.New("raft: node stopped")

// Status is a read-only snapshot of a Node's role and log position,
// used to answer GET /raft.
type Status struct {
	ID          uint64
	Term        uint64
	Role        raftpb.StateType
	Leader      uint64
	CommitIndex uint64
	LastIndex   uint64
	ClusterSize int
}

// Node is the public, channel-based handle onto a raftState. It
// mirrors gyuho-db/raft's Node interface (Tick/Step/Propose/Campaign/
// Ready/Advance) while the work underneath is done by a single
// mutex-guarded raftState rather than a fan of internal channels.
type Node interface {
	// Tick advances the node's internal logical clock by one tick;
	// the caller drives this on a fixed-interval timer.
	Tick()

	// Campaign forces this node to start an election immediately,
	// bypassing the randomized timeout; used by tests.
	Campaign(ctx context.Context) error

	// Propose appends kind/payload as a new log entry if this node is
	// the leader; returns ErrNotLeader otherwise.
	Propose(ctx context.Context, kind raftpb.EntryKind, payload []byte, clientTag string) error

	// Step hands an inbound peer message to the raft core.
	Step(ctx context.Context, msg raftpb.Message) error

	// AddPeer registers a new peer id for quorum and replication.
	AddPeer(id uint64)

	// RemovePeer forgets a peer id.
	RemovePeer(id uint64)

	// Ready returns a channel that yields a Ready value whenever
	// there is committed state or outbound messages to act on. The
	// caller MUST call Advance once it has finished acting on a
	// Ready before requesting the next one.
	Ready() <-chan Ready

	// Advance signals the Node that the most recently received Ready
	// has been fully processed.
	Advance()

	// Status returns a snapshot of the node's current role and log
	// position.
	Status() Status

	// Stop shuts the node down.
	Stop()
}

type node struct {
	rs *raftState

	tickc    chan struct{}
	recvc    chan raftpb.Message
	propc    chan raftpb.Entry
	addPeerc chan uint64
	rmPeerc  chan uint64
	readyc   chan Ready
	advancec chan struct{}
	statusc  chan chan Status
	stopc    chan struct{}
	donec    chan struct{}
}

// StartNode creates a Node from c and starts its background run
// loop.
func StartNode(c *Config) (Node, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	n := &node{
		rs:       newRaftState(c),
		tickc:    make(chan struct{}, 128),
		recvc:    make(chan raftpb.Message),
		propc:    make(chan raftpb.Entry),
		addPeerc: make(chan uint64),
		rmPeerc:  make(chan uint64),
		readyc:   make(chan Ready),
		advancec: make(chan struct{}),
		statusc:  make(chan chan Status),
		stopc:    make(chan struct{}),
		donec:    make(chan struct{}),
	}
	go n.run()
	return n, nil
}

func (n *node) run() {
	defer close(n.donec)

	var (
		lastSoftState  raftpb.SoftState
		haveSoftState  bool
		appliedCursor  uint64
		pendingReady   Ready
		havePending    bool
	)

	for {
		var readyc chan Ready
		// Recompute on every pass so the Ready offered always carries the
		// messages produced since the last one; a SoftState computed for
		// an unsent Ready is carried over until it is delivered.
		rd, _ := n.computeReady(&lastSoftState, &haveSoftState, appliedCursor)
		if havePending && rd.SoftState == nil {
			rd.SoftState = pendingReady.SoftState
		}
		pendingReady, havePending = rd, rd.ContainsUpdates()
		if havePending {
			readyc = n.readyc
		}

		select {
		case <-n.tickc:
			n.rs.mu.Lock()
			n.rs.tickLocked()
			n.rs.mu.Unlock()

		case msg := <-n.recvc:
			n.rs.mu.Lock()
			n.rs.stepLocked(msg)
			n.rs.mu.Unlock()

		case e := <-n.propc:
			n.rs.mu.Lock()
			if n.rs.role != raftpb.StateLeader {
				n.rs.mu.Unlock()
				continue
			}
			n.rs.appendEntriesLocked(e)
			n.rs.bcastAppendLocked()
			n.rs.mu.Unlock()

		case id := <-n.addPeerc:
			n.rs.mu.Lock()
			n.rs.addPeerLocked(id)
			n.rs.mu.Unlock()

		case id := <-n.rmPeerc:
			n.rs.mu.Lock()
			n.rs.removePeerLocked(id)
			n.rs.mu.Unlock()

		case readyc <- pendingReady:
			if len(pendingReady.CommittedEntries) > 0 {
				appliedCursor = pendingReady.CommittedEntries[len(pendingReady.CommittedEntries)-1].Index
			}
			n.rs.mu.Lock()
			n.rs.msgs = nil
			n.rs.mu.Unlock()
			havePending = false

		case <-n.advancec:
			// no-op: Advance only unblocks the caller's own loop;
			// appliedCursor was already bumped when the Ready was sent.

		case respc := <-n.statusc:
			respc <- n.status()

		case <-n.stopc:
			return
		}
	}
}

func (n *node) computeReady(lastSoft *raftpb.SoftState, haveSoft *bool, appliedCursor uint64) (Ready, bool) {
	n.rs.mu.Lock()
	defer n.rs.mu.Unlock()

	soft := raftpb.SoftState{LeaderID: n.rs.leader, RaftState: n.rs.role}
	var rd Ready
	if !*haveSoft || !soft.Equal(*lastSoft) {
		ss := soft
		rd.SoftState = &ss
		*lastSoft = soft
		*haveSoft = true
	}

	if n.rs.commitIndex > appliedCursor {
		rd.CommittedEntries = n.rs.entriesLocked(appliedCursor+1, n.rs.commitIndex)
	}

	if len(n.rs.msgs) > 0 {
		rd.Messages = append(rd.Messages, n.rs.msgs...)
	}

	return rd, rd.ContainsUpdates()
}

func (n *node) status() Status {
	n.rs.mu.Lock()
	defer n.rs.mu.Unlock()
	return Status{
		ID:          n.rs.id,
		Term:        n.rs.term,
		Role:        n.rs.role,
		Leader:      n.rs.leader,
		CommitIndex: n.rs.commitIndex,
		LastIndex:   n.rs.lastIndexLocked(),
		ClusterSize: n.rs.clusterSizeLocked(),
	}
}

func (n *node) Tick() {
	select {
	case n.tickc <- struct{}{}:
	case <-n.donec:
	}
}

func (n *node) Campaign(ctx context.Context) error {
	select {
	case n.recvc <- raftpb.Message{Type: raftpb.MsgHup}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.donec:
		return ErrStopped
	}
}

func (n *node) Propose(ctx context.Context, kind raftpb.EntryKind, payload []byte, clientTag string) error {
	if n.status().Role != raftpb.StateLeader {
		return ErrNotLeader
	}
	select {
	case n.propc <- raftpb.Entry{Kind: kind, Payload: payload, ClientTag: clientTag}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.donec:
		return ErrStopped
	}
}

func (n *node) Step(ctx context.Context, msg raftpb.Message) error {
	if raftpb.IsInternalMessage(msg.Type) {
		return errors.New("raft: cannot Step an internal message")
	}
	select {
	case n.recvc <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.donec:
		return ErrStopped
	}
}

func (n *node) AddPeer(id uint64) {
	select {
	case n.addPeerc <- id:
	case <-n.donec:
	}
}

func (n *node) RemovePeer(id uint64) {
	select {
	case n.rmPeerc <- id:
	case <-n.donec:
	}
}

func (n *node) Ready() <-chan Ready { return n.readyc }

func (n *node) Advance() {
	select {
	case n.advancec <- struct{}{}:
	case <-n.donec:
	}
}

func (n *node) Status() Status {
	respc := make(chan Status, 1)
	select {
	case n.statusc <- respc:
		return <-respc
	case <-n.donec:
		return Status{}
	}
}

func (n *node) Stop() {
	select {
	case <-n.donec:
	default:
		close(n.stopc)
		<-n.donec
	}
}
