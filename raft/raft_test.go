package raft

import (
	"context"
	"testing"
	"time"

	"github.com/gyuho/brokerd/raftpb"
)

// cluster wires up a small set of Nodes backed by MemoryStorage and
// pipes messages between them synchronously, draining Ready/Advance
// on every node after each round. It exists only to exercise
// election and replication invariants without touching disk or a
// real transport.
type cluster struct {
	nodes map[uint64]Node
}

func newTestCluster(t *testing.T, ids []uint64) *cluster {
	t.Helper()
	c := &cluster{nodes: make(map[uint64]Node)}
	for _, id := range ids {
		n, err := StartNode(&Config{
			ID:               id,
			PeerIDs:          ids,
			ElectionTickNum:  10,
			HeartbeatTickNum: 1,
			Storage:          NewMemoryStorage(),
		})
		if err != nil {
			t.Fatalf("StartNode(%d): %v", id, err)
		}
		c.nodes[id] = n
	}
	t.Cleanup(func() {
		for _, n := range c.nodes {
			n.Stop()
		}
	})
	return c
}

// pump delivers every outbound message produced since the last pump
// and drains Ready/Advance on every node; it must be called after
// every Tick/Propose/Step to make progress, mirroring a real event
// loop without real timers or sockets.
func (c *cluster) pump(t *testing.T) {
	t.Helper()
	for round := 0; round < 10; round++ {
		progressed := false
		for _, n := range c.nodes {
			select {
			case rd := <-n.Ready():
				progressed = true
				for _, msg := range rd.Messages {
					if to, ok := c.nodes[msg.To]; ok {
						_ = to.Step(context.Background(), msg)
					}
				}
				n.Advance()
			case <-time.After(20 * time.Millisecond):
			}
		}
		if !progressed {
			return
		}
	}
}

func (c *cluster) leader() (uint64, bool) {
	for id, n := range c.nodes {
		if n.Status().Role == raftpb.StateLeader {
			return id, true
		}
	}
	return 0, false
}

func TestCampaignBecomesLeaderAlone(t *testing.T) {
	c := newTestCluster(t, []uint64{1})
	if err := c.nodes[1].Campaign(context.Background()); err != nil {
		t.Fatalf("Campaign: %v", err)
	}
	c.pump(t)

	st := c.nodes[1].Status()
	if st.Role != raftpb.StateLeader {
		t.Fatalf("expected single node to become leader, got role %v", st.Role)
	}
}

func TestCampaignThreeNodeElectsExactlyOneLeader(t *testing.T) {
	c := newTestCluster(t, []uint64{1, 2, 3})
	if err := c.nodes[1].Campaign(context.Background()); err != nil {
		t.Fatalf("Campaign: %v", err)
	}
	c.pump(t)

	leaders := 0
	var leaderTerm uint64
	for _, n := range c.nodes {
		st := n.Status()
		if st.Role == raftpb.StateLeader {
			leaders++
			leaderTerm = st.Term
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader, got %d", leaders)
	}

	for id, n := range c.nodes {
		st := n.Status()
		if st.Role != raftpb.StateLeader && st.Term != leaderTerm {
			t.Fatalf("node %d term %d does not match leader term %d", id, st.Term, leaderTerm)
		}
	}
}

func TestProposeReplicatesAndCommits(t *testing.T) {
	c := newTestCluster(t, []uint64{1, 2, 3})
	if err := c.nodes[1].Campaign(context.Background()); err != nil {
		t.Fatalf("Campaign: %v", err)
	}
	c.pump(t)

	leaderID, ok := c.leader()
	if !ok {
		t.Fatalf("no leader elected")
	}

	if err := c.nodes[leaderID].Propose(context.Background(), raftpb.EntryPublish, []byte("hello"), "tag-1"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	c.pump(t)

	leaderStatus := c.nodes[leaderID].Status()
	if leaderStatus.CommitIndex < leaderStatus.LastIndex {
		t.Fatalf("expected leader commit index to reach last index, commit=%d last=%d", leaderStatus.CommitIndex, leaderStatus.LastIndex)
	}

	for id, n := range c.nodes {
		st := n.Status()
		if st.CommitIndex != leaderStatus.CommitIndex {
			t.Errorf("node %d commit index %d, want %d", id, st.CommitIndex, leaderStatus.CommitIndex)
		}
	}
}

// TestLeaderStepsDownAfterLosingQuorum isolates a freshly elected
// leader from both its followers and ticks it past an election
// timeout window with no AppendEntriesResponse ever arriving; it must
// step back down to follower instead of believing it still holds a
// majority forever.
func TestLeaderStepsDownAfterLosingQuorum(t *testing.T) {
	c := newTestCluster(t, []uint64{1, 2, 3})
	if err := c.nodes[1].Campaign(context.Background()); err != nil {
		t.Fatalf("Campaign: %v", err)
	}
	c.pump(t)

	leaderID, ok := c.leader()
	if !ok {
		t.Fatalf("no leader elected")
	}
	leader := c.nodes[leaderID]

	for i := 0; i < 15; i++ {
		leader.Tick()
		select {
		case <-leader.Ready():
			leader.Advance()
		case <-time.After(20 * time.Millisecond):
		}
	}

	if leader.Status().Role == raftpb.StateLeader {
		t.Fatalf("expected isolated leader to step down after losing quorum")
	}
}

// TestElectionQuorumUnaffectedByConcurrentAddPeer adds a fourth peer
// to a candidate in between it sending RequestVote and receiving a
// single vote back. If quorum were recomputed against the live peer
// set, the extra peer would raise the threshold from 2 to 3 and the
// candidate would stall despite already holding a 2-of-3 majority
// under the set that existed when the campaign started.
func TestElectionQuorumUnaffectedByConcurrentAddPeer(t *testing.T) {
	c := newTestCluster(t, []uint64{1, 2, 3})
	candidate := c.nodes[1]

	if err := candidate.Campaign(context.Background()); err != nil {
		t.Fatalf("Campaign: %v", err)
	}

	var voteMsgs []raftpb.Message
	select {
	case rd := <-candidate.Ready():
		voteMsgs = rd.Messages
		candidate.Advance()
	case <-time.After(20 * time.Millisecond):
		t.Fatal("expected candidate to emit RequestVote messages")
	}

	candidate.AddPeer(4)

	for _, msg := range voteMsgs {
		if msg.To != 2 {
			continue
		}
		if err := c.nodes[2].Step(context.Background(), msg); err != nil {
			t.Fatalf("step vote request into node 2: %v", err)
		}
	}

	var resp raftpb.Message
	var gotResp bool
	select {
	case rd := <-c.nodes[2].Ready():
		for _, m := range rd.Messages {
			if m.To == 1 {
				resp = m
				gotResp = true
			}
		}
		c.nodes[2].Advance()
	case <-time.After(20 * time.Millisecond):
		t.Fatal("expected node 2 to respond to the vote request")
	}
	if !gotResp {
		t.Fatal("node 2 did not reply to candidate")
	}

	if err := candidate.Step(context.Background(), resp); err != nil {
		t.Fatalf("step vote response into candidate: %v", err)
	}

	select {
	case <-candidate.Ready():
		candidate.Advance()
	case <-time.After(20 * time.Millisecond):
	}

	if candidate.Status().Role != raftpb.StateLeader {
		t.Fatalf("expected candidate to become leader on 2-of-3 votes despite a peer added mid-election, got role %v", candidate.Status().Role)
	}
}

func TestProposeOnFollowerIsRejected(t *testing.T) {
	c := newTestCluster(t, []uint64{1, 2, 3})
	if err := c.nodes[1].Campaign(context.Background()); err != nil {
		t.Fatalf("Campaign: %v", err)
	}
	c.pump(t)

	for id, n := range c.nodes {
		if n.Status().Role == raftpb.StateLeader {
			continue
		}
		if err := n.Propose(context.Background(), raftpb.EntryPublish, []byte("x"), ""); err != ErrNotLeader {
			t.Fatalf("node %d Propose: expected ErrNotLeader, got %v", id, err)
		}
	}
}
