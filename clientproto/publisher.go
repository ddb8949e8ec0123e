package clientproto

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gyuho/brokerd/raftpb"
	"github.com/gyuho/brokerd/statemachine"
)

const proposeTimeout = 3 * time.Second

// handlePublisher reads "FORMAT:TYPE|BODY" lines, extracts the topic,
// and proposes a PUBLISH entry. Lines without a "|" separator are
// logged and dropped. Grounded on
// original_source/Broker/broker.py's handle_publisher loop.
func (s *Server) handlePublisher(conn net.Conn) {
	defer conn.Close()
	logger.Infof("clientproto: publisher connected from %s", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if !s.isLeader() {
			s.writeNotLeader(conn)
			continue
		}

		if !strings.Contains(line, "|") {
			logger.Warningf("clientproto: dropping malformed publish frame from %s", conn.RemoteAddr())
			continue
		}

		format, body := parseFormatFrame(line)
		topic := extractTopic(format, body)

		payload, err := statemachine.EncodePublish(statemachine.PublishCommand{
			Topic:     topic,
			Format:    format,
			Body:      body,
			Timestamp: time.Now(),
		})
		if err != nil {
			logger.Errorf("clientproto: encode publish: %v", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), proposeTimeout)
		err = s.node.Propose(ctx, raftpb.EntryPublish, payload, "")
		cancel()
		if err != nil {
			logger.Warningf("clientproto: propose publish (topic=%s): %v", topic, err)
			fmt.Fprintf(conn, "ERROR:PROPOSE_FAILED|%v\n", err)
			continue
		}
	}
	logger.Infof("clientproto: publisher disconnected from %s", conn.RemoteAddr())
}

func (s *Server) isLeader() bool {
	return s.node.Status().Role == raftpb.StateLeader
}

// writeNotLeader replies to a client that proposed against a
// non-leader node, pointing it at the current leader's client address
// when known. Shared by both the publisher and subscriber connection
// handlers.
func (s *Server) writeNotLeader(conn net.Conn) {
	if addr, ok := s.leaderRedirectAddr(); ok {
		fmt.Fprintf(conn, "ERROR:NOT_LEADER|%s\n", addr)
	} else {
		fmt.Fprintf(conn, "ERROR:NOT_LEADER|unknown\n")
	}
}
