package rafthttp

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io/ioutil"
	"net/http"
	"sync"
	"time"

	"github.com/gyuho/brokerd/pkg/xlog"
	"github.com/gyuho/brokerd/raft"
	"github.com/gyuho/brokerd/raftpb"
)

var logger = xlog.NewLogger("rafthttp", xlog.INFO)

// RaftPath is the path the peer RPC HTTP handler is mounted on.
const RaftPath = "/raft/message"

const (
	connsPerPeer   = 2
	peerBufferSize = 4096
	postTimeout    = 2 * time.Second
)

// Transport sends raftpb.Message to remote peers over HTTP and
// delivers inbound messages to a local raft.Node.
//
// (gyuho-db/rafthttp.Transport + pipeline, narrowed to one address
// per peer and gob-encoded bodies since there is no streaming
// connection or snapshot transfer to support)
type Transport struct {
	node raft.Node

	client *http.Client

	mu    sync.RWMutex
	peers map[uint64]*peer

	stopc chan struct{}
}

// NewTransport returns a Transport that steps inbound messages into
// node.
func NewTransport(node raft.Node) *Transport {
	return &Transport{
		node:   node,
		client: &http.Client{Timeout: postTimeout},
		peers:  make(map[uint64]*peer),
		stopc:  make(chan struct{}),
	}
}

// AddPeer registers (or replaces) the HTTP address for id, starting
// its pipeline workers.
func (t *Transport) AddPeer(id uint64, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.peers[id]; ok {
		old.stop()
	}
	p := newPeer(id, addr, t.client)
	t.peers[id] = p
}

// RemovePeer stops and forgets the peer with id.
func (t *Transport) RemovePeer(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.peers[id]; ok {
		p.stop()
		delete(t.peers, id)
	}
}

// Send enqueues each message for delivery to its destination peer's
// pipeline. Messages to peers Transport does not know about are
// dropped; raft's own retry-on-next-heartbeat behavior tolerates this.
func (t *Transport) Send(msgs []raftpb.Message) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, m := range msgs {
		p, ok := t.peers[m.To]
		if !ok {
			logger.Warningf("rafthttp: dropping message to unknown peer %d", m.To)
			continue
		}
		select {
		case p.msgc <- m:
		default:
			logger.Warningf("rafthttp: peer %d send buffer full, dropping message", m.To)
		}
	}
}

// Stop tears down every peer pipeline.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.peers {
		p.stop()
		delete(t.peers, id)
	}
}

// Handler returns the http.Handler that decodes inbound peer messages
// and steps them into the local raft.Node.
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(t.serveHTTP)
}

func (t *Transport) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var m raftpb.Message
	if err := gob.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, fmt.Sprintf("decode message: %v", err), http.StatusBadRequest)
		return
	}
	r.Body.Close()

	ctx, cancel := context.WithTimeout(r.Context(), postTimeout)
	defer cancel()
	if err := t.node.Step(ctx, m); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// peer is one remote node's outbound pipeline: a bounded channel
// drained by a small worker pool, each worker POSTing gob-encoded
// messages one at a time.
//
// (gyuho-db/rafthttp.pipeline, narrowed to a single fixed address
// instead of a urlPicker over multiple advertised URLs)
type peer struct {
	id   uint64
	addr string

	client *http.Client
	msgc   chan raftpb.Message
	stopc  chan struct{}
	wg     sync.WaitGroup
}

func newPeer(id uint64, addr string, client *http.Client) *peer {
	p := &peer{
		id:     id,
		addr:   addr,
		client: client,
		msgc:   make(chan raftpb.Message, peerBufferSize),
		stopc:  make(chan struct{}),
	}
	p.wg.Add(connsPerPeer)
	for i := 0; i < connsPerPeer; i++ {
		go p.run()
	}
	return p
}

func (p *peer) run() {
	defer p.wg.Done()
	for {
		select {
		case m := <-p.msgc:
			if err := p.post(m); err != nil {
				logger.Warningf("rafthttp: post to peer %d failed: %v", p.id, err)
			}
		case <-p.stopc:
			return
		}
	}
}

func (p *peer) post(m raftpb.Message) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return err
	}

	url := "http://" + p.addr + RaftPath
	resp, err := p.client.Post(url, "application/gob", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	ioutil.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("peer %d returned status %d", p.id, resp.StatusCode)
	}
	return nil
}

func (p *peer) stop() {
	close(p.stopc)
	p.wg.Wait()
}
