package statemachine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gyuho/brokerd/raftpb"
	"github.com/gyuho/brokerd/store"
	"github.com/gyuho/brokerd/writequeue"
)

type fakeNotifier struct {
	published    []store.Record
	subscribed   []string
	unsubscribed []string
}

func (f *fakeNotifier) NotifyPublish(rec store.Record) { f.published = append(f.published, rec) }
func (f *fakeNotifier) NotifySubscribe(subscriberID, topic string) {
	f.subscribed = append(f.subscribed, subscriberID+"|"+topic)
}
func (f *fakeNotifier) NotifyUnsubscribe(subscriberID, topic string) {
	f.unsubscribed = append(f.unsubscribed, subscriberID+"|"+topic)
}

func openTestMachine(t *testing.T) (*Machine, *fakeNotifier, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sm_test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q := writequeue.New(s, 16, 8, nil)
	t.Cleanup(q.Stop)

	n := &fakeNotifier{}
	return New(1, q, n), n, s
}

func TestApplyPublishPersistsAndNotifies(t *testing.T) {
	m, n, s := openTestMachine(t)

	payload, err := EncodePublish(PublishCommand{Topic: "news", Format: "RAW", Body: "hi", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("EncodePublish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Apply(ctx, raftpb.Entry{Index: 1, Kind: raftpb.EntryPublish, Payload: payload}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if m.LastApplied() != 1 {
		t.Fatalf("expected LastApplied 1, got %d", m.LastApplied())
	}
	if len(n.published) != 1 || n.published[0].Body != "hi" {
		t.Fatalf("unexpected notifications: %+v", n.published)
	}

	recs, err := s.ReadTopic("news")
	if err != nil {
		t.Fatalf("ReadTopic: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 persisted record, got %d", len(recs))
	}
}

func TestApplySubscribeThenUnsubscribe(t *testing.T) {
	m, n, s := openTestMachine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	subPayload, err := EncodeSubscribe(SubscribeCommand{SubscriberID: "sub1", NodeID: 1, Topic: "news"})
	if err != nil {
		t.Fatalf("EncodeSubscribe: %v", err)
	}
	if err := m.Apply(ctx, raftpb.Entry{Index: 1, Kind: raftpb.EntrySubscribe, Payload: subPayload}); err != nil {
		t.Fatalf("Apply subscribe: %v", err)
	}

	subs, err := s.Subscriptions()
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].SubscriberID != "sub1" {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}
	if len(n.subscribed) != 1 {
		t.Fatalf("expected 1 subscribe notification, got %d", len(n.subscribed))
	}

	unsubPayload, err := EncodeUnsubscribe(UnsubscribeCommand{SubscriberID: "sub1", Topic: "news"})
	if err != nil {
		t.Fatalf("EncodeUnsubscribe: %v", err)
	}
	if err := m.Apply(ctx, raftpb.Entry{Index: 2, Kind: raftpb.EntryUnsubscribe, Payload: unsubPayload}); err != nil {
		t.Fatalf("Apply unsubscribe: %v", err)
	}

	subs, err = s.Subscriptions()
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected 0 subscriptions after unsubscribe, got %d", len(subs))
	}
	if len(n.unsubscribed) != 1 {
		t.Fatalf("expected 1 unsubscribe notification, got %d", len(n.unsubscribed))
	}
}

func TestApplyNoopAdvancesLastApplied(t *testing.T) {
	m, _, _ := openTestMachine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.Apply(ctx, raftpb.Entry{Index: 5, Kind: raftpb.EntryNoop}); err != nil {
		t.Fatalf("Apply noop: %v", err)
	}
	if m.LastApplied() != 5 {
		t.Fatalf("expected LastApplied 5, got %d", m.LastApplied())
	}
}
