package clientproto

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gyuho/brokerd/pkg/ioutil"
	"github.com/gyuho/brokerd/raftpb"
	"github.com/gyuho/brokerd/statemachine"
	"github.com/gyuho/brokerd/store"
)

const writerPageBytes = 4096

// pingTimeout is a var, not a const, so tests can shorten the
// subscriber heartbeat window instead of waiting out the real 90s.
var pingTimeout = 90 * time.Second

// handleSubscriber handles SUBSCRIBE/UNSUBSCRIBE registration
// propagated through Raft, PING/PONG heartbeats, and a writer
// goroutine draining this connection's outbound frame channel.
// Grounded on original_source/Broker/broker.py's handle_subscriber
// loop, with history replay added on SUBSCRIBE.
func (s *Server) handleSubscriber(conn net.Conn) {
	subscriberID := strconv.FormatUint(s.idGen.Next(), 36)
	logger.Infof("clientproto: subscriber %s connected from %s", subscriberID, conn.RemoteAddr())

	sub := s.fanout.Register(subscriberID)
	defer s.fanout.Unregister(subscriberID)

	writerDone := make(chan struct{})
	go s.subscriberWriter(conn, sub, writerDone)
	defer func() {
		conn.Close()
		s.fanout.Unregister(subscriberID)
		close(sub.outc)
		<-writerDone
	}()

	conn.SetReadDeadline(time.Now().Add(pingTimeout))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "PING":
			conn.SetReadDeadline(time.Now().Add(pingTimeout))
			fmt.Fprintf(conn, "PONG\n")

		case strings.HasPrefix(line, "SUBSCRIBE:"):
			topic := strings.TrimSpace(strings.TrimPrefix(line, "SUBSCRIBE:"))
			if !s.isLeader() {
				s.writeNotLeader(conn)
				continue
			}
			s.proposeSubscribe(subscriberID, topic)
			s.replayHistory(sub, topic)

		case strings.HasPrefix(line, "UNSUBSCRIBE:"):
			topic := strings.TrimSpace(strings.TrimPrefix(line, "UNSUBSCRIBE:"))
			if !s.isLeader() {
				s.writeNotLeader(conn)
				continue
			}
			s.proposeUnsubscribe(subscriberID, topic)

		default:
			// ignore non-command lines without closing the connection,
			// per broker.py's handle_subscriber.
		}
	}
	logger.Infof("clientproto: subscriber %s disconnected", subscriberID)
}

// subscriberWriter drains sub.outc into conn through a page-buffered
// writer: frames that arrive in a burst are coalesced into the buffer
// and flushed once the channel briefly runs dry, instead of issuing
// one syscall per frame.
func (s *Server) subscriberWriter(conn net.Conn, sub *localSub, done chan<- struct{}) {
	defer close(done)
	pw := ioutil.NewPageWriter(conn, writerPageBytes)
	for f := range sub.outc {
		if _, err := fmt.Fprintf(pw, "FORMAT:%s|%s\n", f.Format, f.Body); err != nil {
			return
		}

		drained := false
		for !drained {
			select {
			case f, ok := <-sub.outc:
				if !ok {
					pw.Flush()
					return
				}
				if _, err := fmt.Fprintf(pw, "FORMAT:%s|%s\n", f.Format, f.Body); err != nil {
					return
				}
			default:
				drained = true
			}
		}
		if err := pw.Flush(); err != nil {
			return
		}
	}
	pw.Flush()
}

func (s *Server) proposeSubscribe(subscriberID, topic string) {
	payload, err := statemachine.EncodeSubscribe(statemachine.SubscribeCommand{
		SubscriberID: subscriberID,
		NodeID:       s.node.Status().ID,
		Topic:        topic,
	})
	if err != nil {
		logger.Errorf("clientproto: encode subscribe: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), proposeTimeout)
	defer cancel()
	if err := s.node.Propose(ctx, raftpb.EntrySubscribe, payload, subscriberID); err != nil {
		logger.Warningf("clientproto: propose subscribe (subscriber=%s topic=%s): %v", subscriberID, topic, err)
	}
}

func (s *Server) proposeUnsubscribe(subscriberID, topic string) {
	payload, err := statemachine.EncodeUnsubscribe(statemachine.UnsubscribeCommand{
		SubscriberID: subscriberID,
		Topic:        topic,
	})
	if err != nil {
		logger.Errorf("clientproto: encode unsubscribe: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), proposeTimeout)
	defer cancel()
	if err := s.node.Propose(ctx, raftpb.EntryUnsubscribe, payload, subscriberID); err != nil {
		logger.Warningf("clientproto: propose unsubscribe (subscriber=%s topic=%s): %v", subscriberID, topic, err)
	}
}

// replayHistory delivers every previously committed message for topic
// (or, for the "all" wildcard topic, every topic's history) directly
// to sub's outbound channel, bypassing Raft since this is a read, not
// a state transition.
func (s *Server) replayHistory(sub *localSub, topic string) {
	if s.store == nil {
		return
	}

	var recs []store.Record
	var err error
	if topic == "all" {
		recs, err = s.store.ReadRange(0, ^uint64(0))
	} else {
		recs, err = s.store.ReadTopic(topic)
	}
	if err != nil {
		logger.Warningf("clientproto: replay history for topic %s: %v", topic, err)
		return
	}
	for _, r := range recs {
		select {
		case sub.outc <- frame{Format: r.Format, Body: r.Body}:
		default:
			logger.Warningf("clientproto: history replay dropped frame, outbound buffer full")
			return
		}
	}
}
