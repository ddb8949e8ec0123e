package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gyuho/brokerd/membership"
	"github.com/gyuho/brokerd/raft"
	"github.com/gyuho/brokerd/raftpb"
	"github.com/gyuho/brokerd/statemachine"
	"github.com/gyuho/brokerd/store"
)

// fakeNode is a minimal raft.Node stub for exercising admin HTTP
// handlers without a real consensus loop.
type fakeNode struct {
	status      raft.Status
	proposed    []raftpb.EntryKind
	proposeErr  error
}

func (f *fakeNode) Tick()                                {}
func (f *fakeNode) Campaign(ctx context.Context) error    { return nil }
func (f *fakeNode) Step(ctx context.Context, m raftpb.Message) error { return nil }
func (f *fakeNode) AddPeer(id uint64)                     {}
func (f *fakeNode) RemovePeer(id uint64)                  {}
func (f *fakeNode) Ready() <-chan raft.Ready              { return nil }
func (f *fakeNode) Advance()                              {}
func (f *fakeNode) Status() raft.Status                   { return f.status }
func (f *fakeNode) Stop()                                 {}
func (f *fakeNode) Propose(ctx context.Context, kind raftpb.EntryKind, payload []byte, tag string) error {
	f.proposed = append(f.proposed, kind)
	return f.proposeErr
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "adminhttp_test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHandleRaftReportsStatus(t *testing.T) {
	n := &fakeNode{status: raft.Status{ID: 1, Term: 3, Role: raftpb.StateLeader, Leader: 1, CommitIndex: 5, LastIndex: 5, ClusterSize: 3}}
	s := openTestStore(t)
	d := membership.NewStaticDiscovery(membership.Peer{NodeID: 1}, nil)

	// A machine that has applied through index 3 while raft has
	// already committed through index 5: last_applied must lag
	// commit_index, not be forced equal to it.
	m := statemachine.New(1, nil, nil)
	if err := m.Apply(context.Background(), raftpb.Entry{Kind: raftpb.EntryNoop, Index: 3}); err != nil {
		t.Fatalf("apply noop: %v", err)
	}

	srv := httptest.NewServer(NewRouter(n, m, s, d))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/raft")
	if err != nil {
		t.Fatalf("GET /raft: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["state"] != "LEADER" {
		t.Fatalf("expected state LEADER, got %v", body["state"])
	}
	lastApplied, ok := body["last_applied"].(float64)
	if !ok {
		t.Fatalf("expected numeric last_applied, got %v", body["last_applied"])
	}
	commitIndex, ok := body["commit_index"].(float64)
	if !ok {
		t.Fatalf("expected numeric commit_index, got %v", body["commit_index"])
	}
	if lastApplied != 3 {
		t.Fatalf("expected last_applied=3, got %v", lastApplied)
	}
	if commitIndex != 5 {
		t.Fatalf("expected commit_index=5, got %v", commitIndex)
	}
	if lastApplied == commitIndex {
		t.Fatalf("expected last_applied to be distinct from commit_index")
	}
	if lastApplied > commitIndex {
		t.Fatalf("expected last_applied <= commit_index, got last_applied=%v commit_index=%v", lastApplied, commitIndex)
	}
}

func TestHandlePublishOnLeaderProposes(t *testing.T) {
	n := &fakeNode{status: raft.Status{ID: 1, Role: raftpb.StateLeader}}
	s := openTestStore(t)
	d := membership.NewStaticDiscovery(membership.Peer{NodeID: 1}, nil)
	m := statemachine.New(1, nil, nil)

	srv := httptest.NewServer(NewRouter(n, m, s, d))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/publish", "application/json", strings.NewReader(`{"topic":"news","format":"RAW","body":"hi"}`))
	if err != nil {
		t.Fatalf("POST /publish: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(n.proposed) != 1 || n.proposed[0] != raftpb.EntryPublish {
		t.Fatalf("expected one EntryPublish proposal, got %+v", n.proposed)
	}
}

func TestHandlePublishOnFollowerRedirects(t *testing.T) {
	n := &fakeNode{status: raft.Status{ID: 2, Role: raftpb.StateFollower, Leader: 1}}
	s := openTestStore(t)
	d := membership.NewStaticDiscovery(
		membership.Peer{NodeID: 2},
		[]membership.Peer{{NodeID: 1, Host: "10.0.0.1", AdminHTTPPort: 9001}},
	)
	m := statemachine.New(2, nil, nil)

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse }}
	srv := httptest.NewServer(NewRouter(n, m, s, d))
	defer srv.Close()

	resp, err := client.Post(srv.URL+"/publish", "application/json", strings.NewReader(`{"topic":"news","body":"hi"}`))
	if err != nil {
		t.Fatalf("POST /publish: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if loc != "http://10.0.0.1:9001/publish" {
		t.Fatalf("unexpected Location: %q", loc)
	}
	if len(n.proposed) != 0 {
		t.Fatalf("expected no proposals on follower, got %+v", n.proposed)
	}
}
