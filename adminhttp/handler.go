package adminhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/gyuho/brokerd/membership"
	"github.com/gyuho/brokerd/pkg/xlog"
	"github.com/gyuho/brokerd/raft"
	"github.com/gyuho/brokerd/raftpb"
	"github.com/gyuho/brokerd/statemachine"
	"github.com/gyuho/brokerd/store"
)

var logger = xlog.NewLogger("adminhttp", xlog.INFO)

const proposeTimeout = 3 * time.Second

// Handler serves the admin JSON API.
type Handler struct {
	node      raft.Node
	machine   *statemachine.Machine
	store     *store.Store
	discovery membership.Discovery

	startTime time.Time
}

// NewRouter returns the admin HTTP handler, routed with chi.
func NewRouter(node raft.Node, machine *statemachine.Machine, st *store.Store, discovery membership.Discovery) http.Handler {
	h := &Handler{node: node, machine: machine, store: st, discovery: discovery, startTime: time.Now()}

	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)
	r.Get("/raft", h.handleRaft)
	r.Get("/messages", h.handleMessages)
	r.Get("/subscribers", h.handleSubscribers)
	r.Get("/stats", h.handleStats)
	r.Post("/publish", h.handlePublish)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warningf("adminhttp: encode response: %v", err)
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := h.node.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": true,
		"uptime":  time.Since(h.startTime).String(),
		"node_id": st.ID,
	})
}

func (h *Handler) handleRaft(w http.ResponseWriter, r *http.Request) {
	st := h.node.Status()
	resp := map[string]interface{}{
		"node_id":      st.ID,
		"state":        st.Role.String(),
		"current_term": st.Term,
		"log_length":   st.LastIndex,
		"commit_index": st.CommitIndex,
		"last_applied": h.machine.LastApplied(),
		"cluster_size": st.ClusterSize,
	}
	if st.Leader != raft.NoLeader {
		resp["leader_id"] = st.Leader
	}
	writeJSON(w, http.StatusOK, resp)
}

const maxRecentMessages = 100

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.SnapshotState(h.node.Status().CommitIndex)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	from := uint64(1)
	if snap.MessageCount > maxRecentMessages {
		from = uint64(snap.MessageCount - maxRecentMessages)
	}
	recs, err := h.store.ReadRange(from, from+maxRecentMessages)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": recs})
}

func (h *Handler) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.Subscriptions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscribers": subs, "count": len(subs)})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.SnapshotState(h.node.Status().CommitIndex)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	st := h.node.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message_count": snap.MessageCount,
		"topics":        snap.Topics,
		"cluster_size":  st.ClusterSize,
		"term":          st.Term,
	})
}

type publishRequest struct {
	Topic  string `json:"topic"`
	Format string `json:"format"`
	Body   string `json:"body"`
}

// handlePublish behaves like a TCP publish: on the leader it proposes
// the entry; on a follower it replies 307 with Location pointing at
// the current leader's admin URL.
func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	if h.node.Status().Role != raftpb.StateLeader {
		leaderID := h.node.Status().Leader
		for _, p := range h.discovery.KnownPeers() {
			if p.NodeID == leaderID {
				location := fmt.Sprintf("http://%s:%d/publish", p.Host, p.AdminHTTPPort)
				w.Header().Set("Location", location)
				w.WriteHeader(http.StatusTemporaryRedirect)
				return
			}
		}
		http.Error(w, "no known leader", http.StatusServiceUnavailable)
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Format == "" {
		req.Format = "RAW"
	}
	if req.Topic == "" {
		req.Topic = "default"
	}

	payload, err := statemachine.EncodePublish(statemachine.PublishCommand{
		Topic:     req.Topic,
		Format:    req.Format,
		Body:      req.Body,
		Timestamp: time.Now(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), proposeTimeout)
	defer cancel()
	if err := h.node.Propose(ctx, raftpb.EntryPublish, payload, ""); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"topic": req.Topic, "status": "proposed"})
}
