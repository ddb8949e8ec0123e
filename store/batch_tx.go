package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/boltdb/bolt"
)

// batchTx batches a run of puts/deletes into one bolt transaction,
// fsyncing once per batch instead of once per write. This is the
// same batching discipline the Write Serializer relies on: it drains
// up to B queued requests, writes each into the open transaction, and
// commits them together with one Flush.
//
// (gyuho-db/mvcc/backend.batchTx, narrowed to the single-tx
// committed-on-pending-limit behavior this module needs)
type batchTx struct {
	mu      sync.Mutex
	tx      *bolt.Tx
	store   *Store
	pending int

	batchInterval time.Duration
	batchLimit    int

	stopc chan struct{}
	donec chan struct{}
}

func newBatchTx(s *Store, interval time.Duration, limit int) *batchTx {
	bt := &batchTx{
		store:         s,
		batchInterval: interval,
		batchLimit:    limit,
		stopc:         make(chan struct{}),
		donec:         make(chan struct{}),
	}
	bt.commit(false)
	go bt.run()
	return bt
}

func (bt *batchTx) run() {
	defer close(bt.donec)
	tm := time.NewTimer(bt.batchInterval)
	defer tm.Stop()

	for {
		select {
		case <-tm.C:
		case <-bt.stopc:
			bt.Lock()
			bt.commit(true)
			bt.Unlock()
			return
		}
		bt.Lock()
		bt.commit(false)
		bt.Unlock()
		tm.Reset(bt.batchInterval)
	}
}

func (bt *batchTx) stop() {
	close(bt.stopc)
	<-bt.donec
}

func (bt *batchTx) Lock()   { bt.mu.Lock() }
func (bt *batchTx) Unlock() {
	if bt.pending >= bt.batchLimit {
		bt.commit(false)
	}
	bt.mu.Unlock()
}

func (bt *batchTx) commit(stop bool) {
	if bt.tx != nil {
		if bt.pending == 0 && !stop {
			return
		}
		if err := bt.tx.Commit(); err != nil {
			logger.Panicf("store: cannot commit batch: %v", err)
		}
		bt.pending = 0
	}

	if stop {
		return
	}

	tx, err := bt.store.db.Begin(true)
	if err != nil {
		logger.Panicf("store: cannot begin batch: %v", err)
	}
	bt.tx = tx
}

func (bt *batchTx) unsafePut(bucketName, key, value []byte) {
	b := bt.tx.Bucket(bucketName)
	if b == nil {
		panic(fmt.Errorf("store: bucket %q does not exist", bucketName))
	}
	if err := b.Put(key, value); err != nil {
		logger.Panicf("store: cannot put key: %v", err)
	}
	bt.pending++
}

func (bt *batchTx) unsafeDelete(bucketName, key []byte) {
	b := bt.tx.Bucket(bucketName)
	if b == nil {
		panic(fmt.Errorf("store: bucket %q does not exist", bucketName))
	}
	if err := b.Delete(key); err != nil {
		logger.Panicf("store: cannot delete key: %v", err)
	}
	bt.pending++
}

// ForceCommit commits the pending batch immediately without waiting
// for the next timer tick; used by Flush, which the Write Serializer
// calls after every batch and RaftStorage after each write.
func (bt *batchTx) ForceCommit() {
	bt.Lock()
	bt.commit(false)
	bt.Unlock()
}
