package clientproto

import (
	"sync"

	"github.com/gyuho/brokerd/store"
)

const outboundBufferSize = 64

// frame is one outbound wire frame queued for a subscriber's writer
// goroutine.
type frame struct {
	Format string
	Body   string
}

// localSub is the local half of a subscriber registration: the
// connection handle and topic set live here, distinct from the
// replicated store.Subscription record every node sees.
type localSub struct {
	mu     sync.Mutex
	topics map[string]struct{}
	outc   chan frame
}

func (s *localSub) interested(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, all := s.topics["all"]
	_, ok := s.topics[topic]
	return ok || all
}

func (s *localSub) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *localSub) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// FanOut implements statemachine.Notifier: it routes applied PUBLISH
// entries to whichever subscriber connections happen to be live on
// this node, iterating local subscribers whose topic set contains the
// message's topic.
type FanOut struct {
	detach func(subscriberID string)

	mu   sync.RWMutex
	subs map[string]*localSub
}

// NewFanOut returns a FanOut. detach is called when a subscriber's
// outbound buffer overflows, so the caller can propagate an
// UNSUBSCRIBE through Raft and drop the stale registration.
func NewFanOut(detach func(subscriberID string)) *FanOut {
	return &FanOut{detach: detach, subs: make(map[string]*localSub)}
}

// Register creates the local registration for a newly connected
// subscriber and returns its outbound frame channel.
func (f *FanOut) Register(subscriberID string) *localSub {
	sub := &localSub{topics: make(map[string]struct{}), outc: make(chan frame, outboundBufferSize)}
	f.mu.Lock()
	f.subs[subscriberID] = sub
	f.mu.Unlock()
	return sub
}

// Unregister removes a subscriber's local registration when its
// connection closes.
func (f *FanOut) Unregister(subscriberID string) {
	f.mu.Lock()
	delete(f.subs, subscriberID)
	f.mu.Unlock()
}

// NotifyPublish implements statemachine.Notifier.
func (f *FanOut) NotifyPublish(rec store.Record) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for id, sub := range f.subs {
		if !sub.interested(rec.Topic) {
			continue
		}
		select {
		case sub.outc <- frame{Format: rec.Format, Body: rec.Body}:
		default:
			logger.Warningf("clientproto: subscriber %s outbound buffer full, detaching", id)
			if f.detach != nil {
				f.detach(id)
			}
		}
	}
}

// NotifySubscribe implements statemachine.Notifier.
func (f *FanOut) NotifySubscribe(subscriberID, topic string) {
	f.mu.RLock()
	sub, ok := f.subs[subscriberID]
	f.mu.RUnlock()
	if ok {
		sub.addTopic(topic)
	}
}

// NotifyUnsubscribe implements statemachine.Notifier.
func (f *FanOut) NotifyUnsubscribe(subscriberID, topic string) {
	f.mu.RLock()
	sub, ok := f.subs[subscriberID]
	f.mu.RUnlock()
	if ok {
		sub.removeTopic(topic)
	}
}
