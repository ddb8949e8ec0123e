// Package raftpb defines the wire and log types shared between the
// raft core, the peer transport, and the durable log store.
package raftpb

import "fmt"

// EntryKind tags the payload carried by a log Entry.
type EntryKind int

const (
	EntryNoop EntryKind = iota
	EntryPublish
	EntrySubscribe
	EntryUnsubscribe
)

func (k EntryKind) String() string {
	switch k {
	case EntryNoop:
		return "NOOP"
	case EntryPublish:
		return "PUBLISH"
	case EntrySubscribe:
		return "SUBSCRIBE"
	case EntryUnsubscribe:
		return "UNSUBSCRIBE"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// Entry is a single record in the replicated log.
type Entry struct {
	Term  uint64
	Index uint64
	Kind  EntryKind
	// Payload is the encoded operation body; interpreted by the
	// state machine according to Kind.
	Payload []byte
	// ClientTag optionally carries back a caller-supplied id so the
	// proposer can correlate an applied entry with its own request
	// without blocking on a reply channel keyed by index alone.
	ClientTag string
}

// HardState is the subset of Raft state that must be persisted
// before replying to any RPC.
type HardState struct {
	Term     uint64
	VotedFor uint64
}

// EmptyHardState is the zero value of HardState.
var EmptyHardState = HardState{}

// IsEmptyHardState reports whether st is the zero HardState.
func IsEmptyHardState(st HardState) bool {
	return st == EmptyHardState
}

// MustPersist reports whether cur must be fsynced before any RPC
// reply is sent, given the previously persisted state and the number
// of new log entries appended in the same round.
func MustPersist(prev, cur HardState, newEntryN int) bool {
	return newEntryN != 0 || prev.Term != cur.Term || prev.VotedFor != cur.VotedFor
}

// MessageType identifies the kind of peer RPC carried by a Message.
type MessageType int

const (
	MsgRequestVote MessageType = iota
	MsgRequestVoteResponse
	MsgAppendEntries
	MsgAppendEntriesResponse

	// MsgHup is an internal trigger telling a follower or candidate
	// to start (or retry) a campaign; it never crosses the wire.
	MsgHup
	// MsgBeat is an internal trigger telling a leader to send the
	// next round of heartbeats; it never crosses the wire.
	MsgBeat
)

func (t MessageType) String() string {
	switch t {
	case MsgRequestVote:
		return "MsgRequestVote"
	case MsgRequestVoteResponse:
		return "MsgRequestVoteResponse"
	case MsgAppendEntries:
		return "MsgAppendEntries"
	case MsgAppendEntriesResponse:
		return "MsgAppendEntriesResponse"
	case MsgHup:
		return "MsgHup"
	case MsgBeat:
		return "MsgBeat"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// IsInternalMessage reports whether t is generated locally and must
// never be sent over the peer transport.
func IsInternalMessage(t MessageType) bool {
	return t == MsgHup || t == MsgBeat
}

// IsResponseMessage reports whether t is a reply to an RPC.
func IsResponseMessage(t MessageType) bool {
	return t == MsgRequestVoteResponse || t == MsgAppendEntriesResponse
}

// Message is a single unit of peer-to-peer Raft RPC traffic, or an
// internal trigger addressed to the local node (From == To).
//
// Only the fields relevant to Type are meaningful; the rest are zero.
type Message struct {
	Type MessageType
	From uint64
	To   uint64
	Term uint64

	// RequestVote / RequestVoteResponse
	LastLogIndex uint64
	LastLogTerm  uint64
	VoteGranted  bool

	// AppendEntries / AppendEntriesResponse
	PrevLogIndex  uint64
	PrevLogTerm   uint64
	Entries       []Entry
	LeaderCommit  uint64
	Success       bool
	ConflictIndex uint64
	ConflictTerm  uint64
	// LogIndex carries the sender's last log index: on a successful
	// AppendEntriesResponse it is the new match index; on a rejected
	// one it is a hint the leader uses to retry faster than a naive
	// one-at-a-time nextIndex decrement.
	LogIndex uint64
}

// DescribeMessage renders msg in a human-readable form, for logging.
func DescribeMessage(msg Message) string {
	s := fmt.Sprintf("%s term=%d %d->%d", msg.Type, msg.Term, msg.From, msg.To)
	if len(msg.Entries) > 0 {
		s += fmt.Sprintf(" entries=%d", len(msg.Entries))
	}
	return s
}

// SoftState is the volatile state that changes on every role
// transition; it is never persisted.
type SoftState struct {
	LeaderID uint64
	RaftState StateType
}

// Equal reports whether two SoftState values describe the same role
// and leader.
func (s SoftState) Equal(o SoftState) bool {
	return s.LeaderID == o.LeaderID && s.RaftState == o.RaftState
}

// StateType is one of the three Raft roles.
type StateType int

const (
	StateFollower StateType = iota
	StateCandidate
	StateLeader
)

func (s StateType) String() string {
	switch s {
	case StateFollower:
		return "FOLLOWER"
	case StateCandidate:
		return "CANDIDATE"
	case StateLeader:
		return "LEADER"
	default:
		return fmt.Sprintf("StateType(%d)", int(s))
	}
}
