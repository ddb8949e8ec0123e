package store

import (
	"encoding/binary"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/gyuho/brokerd/raft"
	"github.com/gyuho/brokerd/raftpb"
)

// RaftStorage adapts Store's raft-state and raft-log buckets to
// raft.StorageStable, so the durable log store also serves as the
// node's Raft persistent state, both living in the same embedded
// database file.
type RaftStorage struct {
	s *Store
}

// NewRaftStorage wraps s as a raft.StorageStable.
func NewRaftStorage(s *Store) *RaftStorage {
	return &RaftStorage{s: s}
}

var _ raft.StorageStable = (*RaftStorage)(nil)

func (r *RaftStorage) GetHardState() (raftpb.HardState, error) {
	var hs raftpb.HardState
	err := r.s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRaftState).Get(keyHardState)
		if v == nil {
			return nil
		}
		return decodeGob(v, &hs)
	})
	if err != nil {
		return raftpb.HardState{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return hs, nil
}

func (r *RaftStorage) SetHardState(st raftpb.HardState) error {
	val, err := encodeGob(st)
	if err != nil {
		return err
	}
	r.s.batchTx.Lock()
	r.s.batchTx.unsafePut(bucketRaftState, keyHardState, val)
	r.s.batchTx.Unlock()
	// HardState must be durable before the caller's RPC reply goes
	// out, so force the commit rather than waiting for the batch timer.
	r.s.batchTx.ForceCommit()
	return nil
}

func (r *RaftStorage) FirstIndex() (uint64, error) {
	var first uint64 = 1
	err := r.s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRaftLog).Cursor()
		if k, _ := c.First(); k != nil {
			first = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return first, err
}

func (r *RaftStorage) LastIndex() (uint64, error) {
	var last uint64
	err := r.s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRaftLog).Cursor()
		if k, _ := c.Last(); k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return last, err
}

func (r *RaftStorage) Term(index uint64) (uint64, error) {
	if index == 0 {
		return 0, nil
	}
	var (
		term  uint64
		found bool
	)
	err := r.s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRaftLog).Get(logKey(index))
		if v == nil {
			return nil
		}
		var e raftpb.Entry
		if err := decodeGob(v, &e); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		term = e.Term
		found = true
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, raft.ErrUnavailable
	}
	return term, nil
}

func (r *RaftStorage) Entries(lo, hi uint64) ([]raftpb.Entry, error) {
	var out []raftpb.Entry
	err := r.s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRaftLog).Cursor()
		for k, v := c.Seek(logKey(lo)); k != nil && binary.BigEndian.Uint64(k) < hi; k, v = c.Next() {
			var e raftpb.Entry
			if err := decodeGob(v, &e); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (r *RaftStorage) Append(entries ...raftpb.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	r.s.batchTx.Lock()
	for _, e := range entries {
		val, err := encodeGob(e)
		if err != nil {
			r.s.batchTx.Unlock()
			return err
		}
		r.s.batchTx.unsafePut(bucketRaftLog, logKey(e.Index), val)
	}
	r.s.batchTx.Unlock()
	// Log entries must be durable before AppendEntries is acked.
	r.s.batchTx.ForceCommit()
	return nil
}

func logKey(index uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, index)
	return b
}
