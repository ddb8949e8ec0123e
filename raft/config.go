package raft

import (
	"errors"
	"fmt"
)

// NoNodeID is the zero value of a node id; it never identifies a
// real node.
const NoNodeID uint64 = 0

// NoLeader means the cluster currently has no known leader.
const NoLeader uint64 = 0

// Config contains the parameters to start a Node.
//
// (gyuho-db/raft.Config, generalized: HeartbeatTickNum/ElectionTickNum
// default to fixed millisecond-per-tick windows)
type Config struct {
	// ID is this node's id; must not be NoNodeID.
	ID uint64

	// PeerIDs is the initial known peer set, including this node's
	// own ID. Cluster membership after startup is tracked by the
	// membership package and pushed into the Node via AddPeer/
	// RemovePeer, not by mutating this slice.
	PeerIDs []uint64

	// ElectionTickNum is the number of Tick calls without a valid
	// leader message before a follower starts an election. The
	// effective timeout used by each node is randomized in
	// [ElectionTickNum, 2*ElectionTickNum) ticks.
	ElectionTickNum int

	// HeartbeatTickNum is the number of Tick calls between leader
	// heartbeats; must be smaller than ElectionTickNum.
	HeartbeatTickNum int

	// Storage persists HardState and log entries. It also serves as
	// this module's raft.StorageStable, since the durable log store
	// doubles as the node's embedded database.
	Storage StorageStable

	// MaxEntriesPerMsg bounds how many entries a single AppendEntries
	// message carries.
	MaxEntriesPerMsg uint64

	// Applied is the last applied index on restart, so the apply
	// loop does not re-deliver entries the state machine already
	// durably applied before the crash.
	Applied uint64
}

func (c *Config) validate() error {
	if c.ID == NoNodeID {
		return errors.New("raft: config.ID must not be zero")
	}
	if c.Storage == nil {
		return errors.New("raft: config.Storage must not be nil")
	}
	if c.HeartbeatTickNum <= 0 {
		return fmt.Errorf("raft: heartbeat tick num (%d) must be > 0", c.HeartbeatTickNum)
	}
	if c.ElectionTickNum <= c.HeartbeatTickNum {
		return fmt.Errorf("raft: election tick num (%d) must be greater than heartbeat tick num (%d)", c.ElectionTickNum, c.HeartbeatTickNum)
	}
	if c.MaxEntriesPerMsg == 0 {
		c.MaxEntriesPerMsg = 64
	}
	return nil
}
