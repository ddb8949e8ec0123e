package statemachine

import (
	"context"
	"fmt"

	"github.com/gyuho/brokerd/pkg/xlog"
	"github.com/gyuho/brokerd/raftpb"
	"github.com/gyuho/brokerd/store"
	"github.com/gyuho/brokerd/writequeue"
)

var logger = xlog.NewLogger("statemachine", xlog.INFO)

// Notifier is how the state machine tells the local client protocol
// layer about an applied entry: notify the local fan-out engine with
// the stored record, or notify the local protocol layer if the
// originating connection lives here. A node applies every committed
// entry regardless of whether the originating connection is local;
// Notifier is a no-op for entries this node has no local interest in.
type Notifier interface {
	NotifyPublish(rec store.Record)
	NotifySubscribe(subscriberID, topic string)
	NotifyUnsubscribe(subscriberID, topic string)
}

// Machine applies committed Raft entries to the Durable Log Store
// through the Write Serializer, dispatching by entry kind.
type Machine struct {
	nodeID   uint64
	queue    *writequeue.Queue
	notifier Notifier

	lastApplied uint64
}

// New returns a Machine that applies committed entries for nodeID
// through queue, calling notifier for each applied entry's local
// side effects.
func New(nodeID uint64, queue *writequeue.Queue, notifier Notifier) *Machine {
	return &Machine{nodeID: nodeID, queue: queue, notifier: notifier}
}

// LastApplied returns the index of the most recently applied entry.
func (m *Machine) LastApplied() uint64 {
	return m.lastApplied
}

// Apply applies one committed entry. No state-machine operation may
// fail once reached, since input validation happens before proposal;
// a storage failure here propagates up so the caller can treat it as
// a degraded condition instead of silently skipping the entry.
func (m *Machine) Apply(ctx context.Context, e raftpb.Entry) error {
	var err error
	switch e.Kind {
	case raftpb.EntryNoop:
		// no effect beyond advancing last_applied.

	case raftpb.EntryPublish:
		err = m.applyPublish(ctx, e)

	case raftpb.EntrySubscribe:
		err = m.applySubscribe(ctx, e)

	case raftpb.EntryUnsubscribe:
		err = m.applyUnsubscribe(ctx, e)

	default:
		err = fmt.Errorf("statemachine: unknown entry kind %v at index %d", e.Kind, e.Index)
	}
	if err != nil {
		return err
	}

	m.lastApplied = e.Index
	return nil
}

func (m *Machine) applyPublish(ctx context.Context, e raftpb.Entry) error {
	var cmd PublishCommand
	if err := decodeGob(e.Payload, &cmd); err != nil {
		return fmt.Errorf("statemachine: decode publish at index %d: %w", e.Index, err)
	}

	rec := store.Record{Topic: cmd.Topic, Format: cmd.Format, Body: cmd.Body, Timestamp: cmd.Timestamp}
	seq, err := m.queue.AppendMessage(ctx, rec)
	if err != nil {
		return fmt.Errorf("statemachine: apply publish at index %d: %w", e.Index, err)
	}
	rec.SeqNo = seq

	if m.notifier != nil {
		m.notifier.NotifyPublish(rec)
	}
	return nil
}

func (m *Machine) applySubscribe(ctx context.Context, e raftpb.Entry) error {
	var cmd SubscribeCommand
	if err := decodeGob(e.Payload, &cmd); err != nil {
		return fmt.Errorf("statemachine: decode subscribe at index %d: %w", e.Index, err)
	}

	sub := store.Subscription{SubscriberID: cmd.SubscriberID, NodeID: cmd.NodeID, Topic: cmd.Topic}
	req := writequeue.Request{PutSub: &sub, Done: make(chan error, 1)}
	if err := m.queue.Enqueue(ctx, req, true); err != nil {
		return fmt.Errorf("statemachine: apply subscribe at index %d: %w", e.Index, err)
	}

	if m.notifier != nil {
		m.notifier.NotifySubscribe(cmd.SubscriberID, cmd.Topic)
	}
	return nil
}

func (m *Machine) applyUnsubscribe(ctx context.Context, e raftpb.Entry) error {
	var cmd UnsubscribeCommand
	if err := decodeGob(e.Payload, &cmd); err != nil {
		return fmt.Errorf("statemachine: decode unsubscribe at index %d: %w", e.Index, err)
	}

	req := writequeue.Request{
		DeleteSub: &writequeue.DeleteSubRequest{SubscriberID: cmd.SubscriberID, Topic: cmd.Topic},
		Done:      make(chan error, 1),
	}
	if err := m.queue.Enqueue(ctx, req, true); err != nil {
		return fmt.Errorf("statemachine: apply unsubscribe at index %d: %w", e.Index, err)
	}

	if m.notifier != nil {
		m.notifier.NotifyUnsubscribe(cmd.SubscriberID, cmd.Topic)
	}
	return nil
}
