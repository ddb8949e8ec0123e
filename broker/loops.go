package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/gyuho/brokerd/membership"
)

// tickLoop drives the raft core's logical clock on a fixed wall-clock
// interval, per gyuho-db/raft-example's startRaftNode ticker.
func (n *Node) tickLoop() {
	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.raftNode.Tick()
		case <-n.stopc:
			return
		}
	}
}

// readyLoop pumps raft.Node's Ready channel: outbound messages go to
// the peer transport, committed entries go to the state machine, and
// only then is Advance called, preserving the apply-before-send
// ordering the core relies on.
func (n *Node) readyLoop() {
	for {
		select {
		case rd, ok := <-n.raftNode.Ready():
			if !ok {
				return
			}
			for _, e := range rd.CommittedEntries {
				if err := n.machine.Apply(context.Background(), e); err != nil {
					logger.Errorf("broker: apply entry %d: %v", e.Index, err)
				}
			}
			if len(rd.Messages) > 0 {
				n.transport.Send(rd.Messages)
			}
			n.raftNode.Advance()
		case <-n.stopc:
			return
		}
	}
}

// membershipSyncLoop reconciles discovery's view of the cluster
// against the raft core's peer set and the transport's address book,
// one peer change at a time.
func (n *Node) membershipSyncLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	tracked := map[uint64]bool{n.cfg.NodeID: true}

	for {
		select {
		case <-ticker.C:
			n.syncMembership(tracked)
		case <-n.stopc:
			return
		}
	}
}

func (n *Node) syncMembership(tracked map[uint64]bool) {
	// ElectionSnapshot freezes the peer list for this one reconciliation
	// pass, so the add/remove diff below is computed against a single
	// consistent view instead of one that could shift mid-pass if
	// discovery's background scan updates concurrently.
	live := map[uint64]membership.Peer{}
	for _, p := range n.discovery.ElectionSnapshot() {
		live[p.NodeID] = p
	}
	live[n.cfg.NodeID] = n.discovery.Self()

	for id, p := range live {
		if tracked[id] {
			continue
		}
		tracked[id] = true
		if id == n.cfg.NodeID {
			continue
		}
		n.raftNode.AddPeer(id)
		n.transport.AddPeer(id, peerRPCAddr(p))
		logger.Infof("broker: added peer %d at %s", id, peerRPCAddr(p))
	}

	for id := range tracked {
		if _, ok := live[id]; ok {
			continue
		}
		delete(tracked, id)
		if id == n.cfg.NodeID {
			continue
		}
		n.raftNode.RemovePeer(id)
		n.transport.RemovePeer(id)
		logger.Infof("broker: removed peer %d", id)
	}
}

func peerRPCAddr(p membership.Peer) string {
	return p.Host + ":" + strconv.Itoa(p.PeerRPCPort)
}
