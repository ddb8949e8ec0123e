package rafthttp

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gyuho/brokerd/pkg/scheduleutil"
	"github.com/gyuho/brokerd/raft"
	"github.com/gyuho/brokerd/raftpb"
)

// startNodeServer wires a raft.Node's peer transport to a real HTTP
// listener and starts a background ticker, returning the listener
// address. The returned stop func tears both down.
func startNodeServer(t *testing.T, n raft.Node) (addr string, stop func()) {
	t.Helper()

	tr := NewTransport(n)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: tr.Handler()}
	go srv.Serve(ln)

	donec := make(chan struct{})
	go func() {
		tk := time.NewTicker(5 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				n.Tick()
			case <-donec:
				return
			}
		}
	}()

	return ln.Addr().String(), func() {
		close(donec)
		tr.Stop()
		srv.Close()
	}
}

// pumpReady forwards n's committed Ready messages onto tr until stop
// is closed.
func pumpReady(n raft.Node, tr *Transport, stop <-chan struct{}) {
	for {
		select {
		case rd := <-n.Ready():
			tr.Send(rd.Messages)
			n.Advance()
		case <-stop:
			return
		}
	}
}

func TestTransportDeliversAppendEntriesAcrossHTTP(t *testing.T) {
	storeA := raft.NewMemoryStorage()
	storeB := raft.NewMemoryStorage()

	cfgA := &raft.Config{ID: 1, PeerIDs: []uint64{1, 2}, ElectionTickNum: 10, HeartbeatTickNum: 1, Storage: storeA}
	cfgB := &raft.Config{ID: 2, PeerIDs: []uint64{1, 2}, ElectionTickNum: 10, HeartbeatTickNum: 1, Storage: storeB}

	nodeA, err := raft.StartNode(cfgA)
	if err != nil {
		t.Fatalf("StartNode A: %v", err)
	}
	nodeB, err := raft.StartNode(cfgB)
	if err != nil {
		t.Fatalf("StartNode B: %v", err)
	}
	t.Cleanup(nodeA.Stop)
	t.Cleanup(nodeB.Stop)

	addrA, stopA := startNodeServer(t, nodeA)
	addrB, stopB := startNodeServer(t, nodeB)
	t.Cleanup(stopA)
	t.Cleanup(stopB)

	trA := NewTransport(nodeA)
	trA.AddPeer(2, addrB)
	t.Cleanup(trA.Stop)
	trB := NewTransport(nodeB)
	trB.AddPeer(1, addrA)
	t.Cleanup(trB.Stop)

	stopc := make(chan struct{})
	t.Cleanup(func() { close(stopc) })
	go pumpReady(nodeA, trA, stopc)
	go pumpReady(nodeB, trB, stopc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := nodeA.Campaign(ctx); err != nil {
		t.Fatalf("Campaign: %v", err)
	}
	scheduleutil.WaitSchedule()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if nodeA.Status().Role == raftpb.StateLeader && nodeB.Status().Leader == nodeA.Status().ID {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected node B to learn node A is leader; A=%+v B=%+v", nodeA.Status(), nodeB.Status())
}
