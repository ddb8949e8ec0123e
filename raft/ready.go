package raft

import "github.com/gyuho/brokerd/raftpb"

// Ready encapsulates the state and messages a Node is ready to have
// its caller act on: entries to feed to the state machine and
// messages to dispatch over the peer transport.
//
// (gyuho-db/raft.Ready, narrowed: HardState and new log entries are
// already durable by the time Ready is produced, since stepLocked and
// campaignLocked persist synchronously through StorageStable — the
// caller only needs committed entries and outbound messages)
type Ready struct {
	// SoftState is non-nil only when the role or leader changed since
	// the previous Ready.
	SoftState *raftpb.SoftState

	// CommittedEntries are newly committed entries ready for the
	// state machine to apply, in order.
	CommittedEntries []raftpb.Entry

	// Messages are outbound peer RPCs to send. They must be sent
	// after CommittedEntries are durably applied.
	Messages []raftpb.Message
}

// ContainsUpdates reports whether rd carries anything worth a Ready
// round-trip.
func (rd Ready) ContainsUpdates() bool {
	return rd.SoftState != nil || len(rd.CommittedEntries) > 0 || len(rd.Messages) > 0
}
