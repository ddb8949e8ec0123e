// Package store implements the Durable Log Store: the single
// embedded database file a node owns, holding committed messages,
// subscriber registrations, and the node's persistent Raft state.
//
// (gyuho-db/mvcc/backend, generalized from a single "key-value"
// bucket layout to the message/subscription/raft-state buckets this
// domain needs)
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/btree"

	"github.com/gyuho/brokerd/pkg/xlog"
)

var logger = xlog.NewLogger("store", xlog.INFO)

// ErrStorageUnavailable is returned when the underlying database
// cannot service a read or write.
var ErrStorageUnavailable = errors.New("store: storage unavailable")

// ErrCorrupt is returned when the database fails its open-time
// integrity check.
var ErrCorrupt = errors.New("store: database is corrupt")

var (
	bucketRaftState     = []byte("raft-state")
	bucketRaftLog       = []byte("raft-log")
	bucketMessages      = []byte("messages")
	bucketSubscriptions = []byte("subscriptions")
)

var keyHardState = []byte("hardstate")

const (
	defaultBatchLimit    = 256
	defaultBatchInterval = 20 * time.Millisecond
)

// Record is a single committed message as persisted by the Durable
// Log Store.
type Record struct {
	SeqNo     uint64
	Topic     string
	Format    string
	Body      string
	Timestamp time.Time
}

// Subscription is a cluster-wide-visible subscriber registration,
// independent of any live TCP connection.
type Subscription struct {
	SubscriberID string
	NodeID       uint64
	Topic        string
	LastSeen     time.Time
}

// SnapshotState is a cheap aggregate for status endpoints.
type SnapshotState struct {
	MessageCount int
	Topics       []string
	LastApplied  uint64
}

// Store is the per-node embedded database. It is safe for concurrent
// reads. Message and subscription writes come from a single caller,
// the writequeue package; RaftStorage writes the raft-state and
// raft-log buckets through the same batch transaction.
type Store struct {
	mu sync.RWMutex

	db      *bolt.DB
	batchTx *batchTx

	nextSeq uint64
	// topicIndex maps topic -> ordered set of seq numbers, letting
	// history replay on SUBSCRIBE avoid a full bucket scan.
	topicIndex map[string]*btree.BTree
}

type seqItem uint64

func (a seqItem) Less(than btree.Item) bool { return a < than.(seqItem) }

// Open opens (creating if absent) the embedded database at path and
// rebuilds the in-memory topic index from its contents.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s := &Store{db: db, topicIndex: make(map[string]*btree.BTree)}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRaftState, bucketRaftLog, bucketMessages, bucketSubscriptions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if err := s.rebuildTopicIndex(); err != nil {
		db.Close()
		return nil, err
	}

	// The batch holds bolt's single write transaction open, so it starts
	// only after the buckets above have been created.
	s.batchTx = newBatchTx(s, defaultBatchInterval, defaultBatchLimit)
	return s, nil
}

func (s *Store) rebuildTopicIndex() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := decodeGob(v, &rec); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			s.indexTopic(rec.Topic, rec.SeqNo)
			if rec.SeqNo > s.nextSeq {
				s.nextSeq = rec.SeqNo
			}
			return nil
		})
	})
}

func (s *Store) indexTopic(topic string, seq uint64) {
	t, ok := s.topicIndex[topic]
	if !ok {
		t = btree.New(32)
		s.topicIndex[topic] = t
	}
	t.ReplaceOrInsert(seqItem(seq))
}

// Close flushes any pending batch and closes the database.
func (s *Store) Close() error {
	s.batchTx.stop()
	return s.db.Close()
}

// Append persists rec, assigning it the next store sequence number.
// It is only ever called from the writequeue's single consumer
// goroutine. The write joins the open batch and becomes visible to
// readers once the batch commits (Flush, the batch limit, or the batch
// timer).
func (s *Store) Append(rec Record) (uint64, error) {
	s.mu.Lock()
	s.nextSeq++
	rec.SeqNo = s.nextSeq
	s.mu.Unlock()

	key := seqKey(rec.SeqNo)
	val, err := encodeGob(rec)
	if err != nil {
		return 0, err
	}

	s.batchTx.Lock()
	s.batchTx.unsafePut(bucketMessages, key, val)
	s.batchTx.Unlock()

	s.mu.Lock()
	s.indexTopic(rec.Topic, rec.SeqNo)
	s.mu.Unlock()

	return rec.SeqNo, nil
}

// PutSubscription persists a subscriber registration.
func (s *Store) PutSubscription(sub Subscription) error {
	val, err := encodeGob(sub)
	if err != nil {
		return err
	}
	s.batchTx.Lock()
	s.batchTx.unsafePut(bucketSubscriptions, subscriptionKey(sub.SubscriberID, sub.Topic), val)
	s.batchTx.Unlock()
	return nil
}

// DeleteSubscription removes a subscriber registration.
func (s *Store) DeleteSubscription(subscriberID, topic string) error {
	s.batchTx.Lock()
	s.batchTx.unsafeDelete(bucketSubscriptions, subscriptionKey(subscriberID, topic))
	s.batchTx.Unlock()
	return nil
}

// Subscriptions returns every persisted subscriber registration.
func (s *Store) Subscriptions() ([]Subscription, error) {
	var out []Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).ForEach(func(k, v []byte) error {
			var sub Subscription
			if err := decodeGob(v, &sub); err != nil {
				return err
			}
			out = append(out, sub)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// ReadRange returns committed records in [from, to), ordered.
func (s *Store) ReadRange(from, to uint64) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil && binary.BigEndian.Uint64(k) < to; k, v = c.Next() {
			var rec Record
			if err := decodeGob(v, &rec); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadTopic returns every committed record for topic, in commit
// order, using the in-memory topic index instead of a full scan.
// This backs the SUBSCRIBE history replay feature (spec supplement,
// grounded on original_source/Broker/broker.py's replay-on-subscribe
// behavior).
func (s *Store) ReadTopic(topic string) ([]Record, error) {
	s.mu.RLock()
	t, ok := s.topicIndex[topic]
	var seqs []uint64
	if ok {
		t.Ascend(func(i btree.Item) bool {
			seqs = append(seqs, uint64(i.(seqItem)))
			return true
		})
	}
	s.mu.RUnlock()

	out := make([]Record, 0, len(seqs))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		for _, seq := range seqs {
			v := b.Get(seqKey(seq))
			if v == nil {
				continue
			}
			var rec Record
			if err := decodeGob(v, &rec); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SnapshotState returns the cheap status aggregate for admin reporting.
func (s *Store) SnapshotState(lastApplied uint64) (SnapshotState, error) {
	st := SnapshotState{LastApplied: lastApplied}

	s.mu.RLock()
	for topic := range s.topicIndex {
		st.Topics = append(st.Topics, topic)
	}
	s.mu.RUnlock()

	err := s.db.View(func(tx *bolt.Tx) error {
		st.MessageCount = tx.Bucket(bucketMessages).Stats().KeyN
		return nil
	})
	if err != nil {
		return SnapshotState{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return st, nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func subscriptionKey(subscriberID, topic string) []byte {
	return []byte(subscriberID + "|" + topic)
}
