package broker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gyuho/brokerd/adminhttp"
	"github.com/gyuho/brokerd/clientproto"
	"github.com/gyuho/brokerd/membership"
	"github.com/gyuho/brokerd/pkg/fileutil"
	"github.com/gyuho/brokerd/pkg/xlog"
	"github.com/gyuho/brokerd/raft"
	"github.com/gyuho/brokerd/raftpb"
	"github.com/gyuho/brokerd/rafthttp"
	"github.com/gyuho/brokerd/statemachine"
	"github.com/gyuho/brokerd/store"
	"github.com/gyuho/brokerd/writequeue"
)

var logger = xlog.NewLogger("broker", xlog.INFO)

// Node is one broker process's full set of wired components.
type Node struct {
	cfg Config

	store     *store.Store
	queue     *writequeue.Queue
	raftNode  raft.Node
	transport *rafthttp.Transport
	discovery membership.Discovery
	machine   *statemachine.Machine
	fanout    *clientproto.FanOut

	clientSrv *clientproto.Server
	adminSrv  *http.Server
	adminLn   net.Listener

	stopc chan struct{}
	donec chan struct{}
}

// New creates and starts a Node from cfg. It does not return until
// the node's storage is open and its listeners are bound; background
// loops (ticking, Ready pumping, membership sync) continue to run
// after New returns.
func New(cfg Config) (*Node, error) {
	setDefaults(&cfg)

	if err := fileutil.MkdirAll(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("broker: create data dir %s: %w", cfg.DataDir, err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, fmt.Sprintf("messages_node_%d.db", cfg.NodeID)))
	if err != nil {
		return nil, fmt.Errorf("broker: open store: %w", err)
	}

	n := &Node{cfg: cfg, store: st, stopc: make(chan struct{}), donec: make(chan struct{})}

	n.queue = writequeue.New(st, 1024, 256, n.onDegraded)

	raftCfg := &raft.Config{
		ID:               cfg.NodeID,
		PeerIDs:          []uint64{cfg.NodeID},
		ElectionTickNum:  cfg.ElectionTickNum,
		HeartbeatTickNum: cfg.HeartbeatTickNum,
		Storage:          store.NewRaftStorage(st),
	}
	raftNode, err := raft.StartNode(raftCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("broker: start raft node: %w", err)
	}
	n.raftNode = raftNode

	n.transport = rafthttp.NewTransport(raftNode)

	self := membership.Peer{
		NodeID:        cfg.NodeID,
		Host:          cfg.Host,
		ClientPort:    cfg.ClientPort,
		PeerRPCPort:   cfg.PeerRPCPort(),
		AdminHTTPPort: cfg.AdminHTTPPort(),
	}
	scanHosts := cfg.ScanHosts
	if len(scanHosts) == 0 {
		scanHosts = []string{cfg.Host}
	}
	n.discovery = membership.NewScanDiscovery(self, scanHosts, cfg.ScanBasePort, cfg.MaxClusterSize, cfg.ElectionTimeout())

	n.fanout = clientproto.NewFanOut(n.detachSubscriber)
	n.machine = statemachine.New(cfg.NodeID, n.queue, n.fanout)

	clientAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.ClientPort)
	clientSrv, err := clientproto.NewServer(clientAddr, cfg.NodeID, n.raftNode, n.fanout, n.discovery, n.store)
	if err != nil {
		n.Stop()
		return nil, fmt.Errorf("broker: start client server: %w", err)
	}
	n.clientSrv = clientSrv
	go func() {
		if err := n.clientSrv.Serve(); err != nil {
			logger.Warningf("broker: client server stopped: %v", err)
		}
	}()

	peerAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.PeerRPCPort())
	peerLn, err := net.Listen("tcp", peerAddr)
	if err != nil {
		n.Stop()
		return nil, fmt.Errorf("broker: listen peer rpc %s: %w", peerAddr, err)
	}
	peerSrv := &http.Server{Handler: n.transport.Handler()}
	go peerSrv.Serve(peerLn)

	adminAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.AdminHTTPPort())
	adminLn, err := net.Listen("tcp", adminAddr)
	if err != nil {
		n.Stop()
		return nil, fmt.Errorf("broker: listen admin http %s: %w", adminAddr, err)
	}
	n.adminLn = adminLn
	n.adminSrv = &http.Server{Handler: adminhttp.NewRouter(n.raftNode, n.machine, n.store, n.discovery)}
	go n.adminSrv.Serve(adminLn)

	go n.tickLoop()
	go n.readyLoop()
	go n.membershipSyncLoop()

	logger.Infof("broker: node %d listening client=%s peer=%s admin=%s", cfg.NodeID, clientAddr, peerAddr, adminAddr)
	return n, nil
}

// ElectionTimeout returns the wall-clock election timeout implied by
// cfg's tick parameters, for membership's grace-window sizing.
func (c Config) ElectionTimeout() time.Duration {
	return time.Duration(c.ElectionTickNum) * c.TickInterval
}

func (n *Node) onDegraded(err error) {
	logger.Errorf("broker: storage degraded, stopping raft node: %v", err)
	n.raftNode.Stop()
}

func (n *Node) detachSubscriber(subscriberID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	payload, err := statemachine.EncodeUnsubscribe(statemachine.UnsubscribeCommand{SubscriberID: subscriberID})
	if err != nil {
		logger.Errorf("broker: encode detach unsubscribe: %v", err)
		return
	}
	if err := n.raftNode.Propose(ctx, raftpb.EntryUnsubscribe, payload, subscriberID); err != nil {
		logger.Warningf("broker: propose detach unsubscribe for %s: %v", subscriberID, err)
	}
}

// Stop shuts every component of the node down.
func (n *Node) Stop() {
	select {
	case <-n.donec:
		return
	default:
		close(n.stopc)
	}

	if n.clientSrv != nil {
		n.clientSrv.Close()
	}
	if n.adminSrv != nil {
		n.adminSrv.Close()
	}
	if n.discovery != nil {
		n.discovery.Close()
	}
	if n.transport != nil {
		n.transport.Stop()
	}
	if n.raftNode != nil {
		n.raftNode.Stop()
	}
	if n.queue != nil {
		n.queue.Stop()
	}
	if n.store != nil {
		n.store.Close()
	}

	close(n.donec)
}

// Done returns a channel closed once Stop has fully torn the node
// down.
func (n *Node) Done() <-chan struct{} { return n.donec }

// RaftNode exposes the node's raft.Node, mainly for tests driving
// multi-node scenarios directly.
func (n *Node) RaftNode() raft.Node { return n.raftNode }

// Store exposes the node's Durable Log Store, mainly for tests.
func (n *Node) Store() *store.Store { return n.store }
