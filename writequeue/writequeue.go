// Package writequeue implements the Write Serializer: the single
// consumer that converts concurrent apply and replication calls into
// one ordered stream of durable writes.
package writequeue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gyuho/brokerd/pkg/xlog"
	"github.com/gyuho/brokerd/store"
)

var logger = xlog.NewLogger("writequeue", xlog.INFO)

// ErrBackpressure is the error value for a full queue. No function in
// this package returns it: Queue.Enqueue and Queue.AppendMessage block
// until the queue accepts the request, since upstream Raft apply
// callers must not drop entries, and the package has no non-blocking
// enqueue.
var ErrBackpressure = errors.New("writequeue: queue is full")

// Request is one durable write the serializer must apply. Exactly
// one of the kind-specific fields is set.
type Request struct {
	Record    *store.Record
	PutSub    *store.Subscription
	DeleteSub *DeleteSubRequest
	// Done, if non-nil, receives the batch result (nil once the batch
	// commits, the error if it fails), letting a sync Enqueue block
	// until durable.
	Done chan error
	// SeqNo is filled in for Record requests once the batch commits.
	SeqNo uint64
}

// DeleteSubRequest identifies a subscriber registration to remove.
type DeleteSubRequest struct {
	SubscriberID string
	Topic        string
}

// DegradedFunc is called after each failed batch once
// maxConsecutiveFailures batches in a row have failed; the broker uses
// it to stop the node's Raft core.
type DegradedFunc func(err error)

// Queue is the single-consumer Write Serializer.
type Queue struct {
	store *store.Store

	reqc chan Request

	batchLimit int

	mu        sync.Mutex
	degraded  bool
	onDegrade DegradedFunc

	stopc chan struct{}
	donec chan struct{}
}

// New creates a Queue bound to s with the given bounded-channel
// capacity and starts its consumer goroutine.
func New(s *store.Store, capacity, batchLimit int, onDegrade DegradedFunc) *Queue {
	q := &Queue{
		store:      s,
		reqc:       make(chan Request, capacity),
		batchLimit: batchLimit,
		onDegrade:  onDegrade,
		stopc:      make(chan struct{}),
		donec:      make(chan struct{}),
	}
	go q.run()
	return q
}

// Degraded reports whether the queue has given up retrying after a
// persistent storage failure.
func (q *Queue) Degraded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.degraded
}

// Enqueue blocks until req is accepted into the queue. If sync is
// true, it additionally blocks until req's batch has committed.
func (q *Queue) Enqueue(ctx context.Context, req Request, sync bool) error {
	var done chan error
	if sync {
		done = make(chan error, 1)
		req.Done = done
	}

	select {
	case q.reqc <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.donec:
		return errors.New("writequeue: stopped")
	}

	if !sync {
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AppendMessage enqueues a committed message for durable append and
// returns its assigned sequence number once durable.
func (q *Queue) AppendMessage(ctx context.Context, rec store.Record) (uint64, error) {
	req := Request{Record: &rec, Done: make(chan error, 1)}
	select {
	case q.reqc <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-q.donec:
		return 0, errors.New("writequeue: stopped")
	}
	err := <-req.Done
	return rec.SeqNo, err
}

// Stop drains the queue and shuts the consumer down.
func (q *Queue) Stop() {
	select {
	case <-q.donec:
	default:
		close(q.stopc)
		<-q.donec
	}
}

func (q *Queue) run() {
	defer close(q.donec)

	var backoff time.Duration
	consecutiveFailures := 0

	for {
		var batch []Request

		select {
		case req := <-q.reqc:
			batch = append(batch, req)
		case <-q.stopc:
			return
		}

		drain := true
		for drain && len(batch) < q.batchLimit {
			select {
			case req := <-q.reqc:
				batch = append(batch, req)
			default:
				drain = false
			}
		}

		err := q.applyBatch(batch)
		if err != nil {
			consecutiveFailures++
			logger.Errorf("writequeue: batch of %d failed (%d consecutive): %v", len(batch), consecutiveFailures, err)

			if consecutiveFailures >= maxConsecutiveFailures {
				q.mu.Lock()
				q.degraded = true
				q.mu.Unlock()
				if q.onDegrade != nil {
					q.onDegrade(err)
				}
			}

			if backoff == 0 {
				backoff = minBackoff
			} else {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			time.Sleep(backoff)
			continue
		}

		backoff = 0
		consecutiveFailures = 0
	}
}

const (
	minBackoff             = 10 * time.Millisecond
	maxBackoff             = 2 * time.Second
	maxConsecutiveFailures = 10
)

func (q *Queue) applyBatch(batch []Request) error {
	for i := range batch {
		req := &batch[i]
		var err error
		switch {
		case req.Record != nil:
			req.SeqNo, err = q.store.Append(*req.Record)
			req.Record.SeqNo = req.SeqNo
		case req.PutSub != nil:
			err = q.store.PutSubscription(*req.PutSub)
		case req.DeleteSub != nil:
			err = q.store.DeleteSubscription(req.DeleteSub.SubscriberID, req.DeleteSub.Topic)
		}
		if err != nil {
			q.failBatch(batch, err)
			return err
		}
	}

	q.store.Flush()

	for i := range batch {
		if batch[i].Done != nil {
			batch[i].Done <- nil
		}
	}
	return nil
}

func (q *Queue) failBatch(batch []Request, err error) {
	for i := range batch {
		if batch[i].Done != nil {
			batch[i].Done <- err
		}
	}
}
