package writequeue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gyuho/brokerd/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "messages_node_test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendMessageAssignsSeqAndPersists(t *testing.T) {
	s := openTestStore(t)
	q := New(s, 16, 8, nil)
	t.Cleanup(q.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	seq, err := q.AppendMessage(ctx, store.Record{Topic: "news", Format: "RAW", Body: "hello"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if seq == 0 {
		t.Fatalf("expected non-zero seq")
	}

	recs, err := s.ReadTopic("news")
	if err != nil {
		t.Fatalf("ReadTopic: %v", err)
	}
	if len(recs) != 1 || recs[0].Body != "hello" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestEnqueueOrderPreservedWithinBatch(t *testing.T) {
	s := openTestStore(t)
	q := New(s, 64, 32, nil)
	t.Cleanup(q.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bodies := []string{"a", "b", "c", "d"}
	for _, b := range bodies {
		if _, err := q.AppendMessage(ctx, store.Record{Topic: "t", Format: "RAW", Body: b}); err != nil {
			t.Fatalf("AppendMessage(%q): %v", b, err)
		}
	}

	recs, err := s.ReadTopic("t")
	if err != nil {
		t.Fatalf("ReadTopic: %v", err)
	}
	if len(recs) != len(bodies) {
		t.Fatalf("expected %d records, got %d", len(bodies), len(recs))
	}
	for i, want := range bodies {
		if recs[i].Body != want {
			t.Errorf("record %d: got %q, want %q", i, recs[i].Body, want)
		}
	}
}
