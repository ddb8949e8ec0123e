package store

import (
	"path/filepath"
	"testing"

	"github.com/gyuho/brokerd/raftpb"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "messages_node_test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAssignsMonotoneSeq(t *testing.T) {
	s := openTestStore(t)

	first, err := s.Append(Record{Topic: "news", Format: "RAW", Body: "a"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := s.Append(Record{Topic: "news", Format: "RAW", Body: "b"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if second <= first {
		t.Fatalf("expected monotone seq, got %d then %d", first, second)
	}
}

func TestReadTopicReturnsInCommitOrder(t *testing.T) {
	s := openTestStore(t)

	for _, body := range []string{"a", "b", "c"} {
		if _, err := s.Append(Record{Topic: "news", Format: "RAW", Body: body}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := s.Append(Record{Topic: "other", Format: "RAW", Body: "x"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	s.Flush()

	recs, err := s.ReadTopic("news")
	if err != nil {
		t.Fatalf("ReadTopic: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if recs[i].Body != want {
			t.Errorf("record %d: got %q, want %q", i, recs[i].Body, want)
		}
	}
}

func TestSnapshotStateCountsMessages(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := s.Append(Record{Topic: "t", Format: "RAW", Body: "x"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	s.Flush()

	snap, err := s.SnapshotState(5)
	if err != nil {
		t.Fatalf("SnapshotState: %v", err)
	}
	if snap.MessageCount != 5 {
		t.Fatalf("expected 5 messages, got %d", snap.MessageCount)
	}
	if snap.LastApplied != 5 {
		t.Fatalf("expected last applied 5, got %d", snap.LastApplied)
	}
}

func TestRaftStorageRoundTrip(t *testing.T) {
	s := openTestStore(t)
	rs := NewRaftStorage(s)

	if err := rs.SetHardState(raftpb.HardState{Term: 3, VotedFor: 7}); err != nil {
		t.Fatalf("SetHardState: %v", err)
	}
	hs, err := rs.GetHardState()
	if err != nil {
		t.Fatalf("GetHardState: %v", err)
	}
	if hs.Term != 3 || hs.VotedFor != 7 {
		t.Fatalf("got %+v, want term=3 votedFor=7", hs)
	}

	if err := rs.Append(raftpb.Entry{Term: 1, Index: 1, Kind: raftpb.EntryNoop}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := rs.Append(raftpb.Entry{Term: 1, Index: 2, Kind: raftpb.EntryPublish, Payload: []byte("x")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	last, err := rs.LastIndex()
	if err != nil {
		t.Fatalf("LastIndex: %v", err)
	}
	if last != 2 {
		t.Fatalf("expected last index 2, got %d", last)
	}

	ents, err := rs.Entries(1, 3)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(ents) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ents))
	}
}
