package broker

import (
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/gyuho/brokerd/pkg/netutil"
	"github.com/gyuho/brokerd/pkg/testutil"
	"github.com/gyuho/brokerd/raftpb"
)

func startTestCluster(t *testing.T, n int) []*Node {
	t.Helper()

	ports, err := netutil.GetFreeTCPPorts(n)
	if err != nil {
		t.Fatalf("GetFreeTCPPorts: %v", err)
	}
	sort.Ints(ports)
	span := ports[len(ports)-1] - ports[0] + 1

	nodes := make([]*Node, 0, n)
	for i, port := range ports {
		cfg := Config{
			NodeID:           uint64(i + 1),
			Host:             "127.0.0.1",
			ClientPort:       port,
			ScanBasePort:     ports[0],
			MaxClusterSize:   span + 2,
			DataDir:          filepath.Join(t.TempDir(), "node"),
			ElectionTickNum:  10,
			HeartbeatTickNum: 1,
			TickInterval:     20 * time.Millisecond,
		}
		node, err := New(cfg)
		if err != nil {
			t.Fatalf("New node %d: %v", cfg.NodeID, err)
		}
		nodes = append(nodes, node)
	}

	t.Cleanup(func() {
		for _, n := range nodes {
			n.Stop()
		}
	})
	return nodes
}

func waitForLeader(t *testing.T, nodes []*Node, deadline time.Duration) *Node {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		for _, n := range nodes {
			if n.RaftNode().Status().Role == raftpb.StateLeader {
				return n
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	testutil.FatalStack(t, fmt.Sprintf("no leader elected within %s", deadline))
	return nil
}

func TestClusterElectsLeaderAcrossScanDiscovery(t *testing.T) {
	nodes := startTestCluster(t, 3)

	leader := waitForLeader(t, nodes, 30*time.Second)

	followerSeesLeader := false
	for _, n := range nodes {
		if n == leader {
			continue
		}
		if n.RaftNode().Status().Leader == leader.RaftNode().Status().ID {
			followerSeesLeader = true
		}
	}
	if !followerSeesLeader {
		t.Fatalf("no follower recognizes the elected leader")
	}
}

func TestClusterReelectsLeaderAfterFailure(t *testing.T) {
	nodes := startTestCluster(t, 3)
	first := waitForLeader(t, nodes, 30*time.Second)
	firstTerm := first.RaftNode().Status().Term

	first.Stop()
	remaining := make([]*Node, 0, 2)
	for _, n := range nodes {
		if n != first {
			remaining = append(remaining, n)
		}
	}

	second := waitForLeader(t, remaining, 30*time.Second)
	if second.RaftNode().Status().Term <= firstTerm {
		t.Fatalf("expected a strictly greater term after re-election, first=%d second=%d", firstTerm, second.RaftNode().Status().Term)
	}

	leaders := 0
	for _, n := range remaining {
		if n.RaftNode().Status().Role == raftpb.StateLeader {
			leaders++
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader among survivors, got %d", leaders)
	}
}

func TestClusterReplicatesPublishedMessage(t *testing.T) {
	nodes := startTestCluster(t, 3)
	leader := waitForLeader(t, nodes, 30*time.Second)

	conn, err := net.Dial("tcp", leader.clientSrv.Addr().String())
	if err != nil {
		t.Fatalf("dial leader client port: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("PUBLISH\nFORMAT:RAW|hello cluster\n")); err != nil {
		t.Fatalf("write publish frame: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		allApplied := true
		for _, n := range nodes {
			recs, err := n.store.ReadTopic("default")
			if err != nil || len(recs) == 0 || recs[len(recs)-1].Body != "hello cluster" {
				allApplied = false
			}
		}
		if allApplied {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("published message was not applied on all nodes in time")
}
