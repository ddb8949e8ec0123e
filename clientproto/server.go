package clientproto

import (
	"fmt"
	"net"
	"time"

	"github.com/gyuho/brokerd/membership"
	"github.com/gyuho/brokerd/pkg/idutil"
	"github.com/gyuho/brokerd/pkg/xlog"
	"github.com/gyuho/brokerd/raft"
	"github.com/gyuho/brokerd/store"
)

var logger = xlog.NewLogger("clientproto", xlog.INFO)

const (
	roleTagLen        = 7
	roleDetectTimeout = 10 * time.Second

	publisherRoleTag  = "PUBLISH"
	subscriberRoleTag = "SUBSCRI"
)

// Server accepts client TCP connections and dispatches them to the
// publisher or subscriber handler according to the 7-byte role tag.
type Server struct {
	ln        net.Listener
	node      raft.Node
	fanout    *FanOut
	discovery membership.Discovery
	store     *store.Store
	idGen     *idutil.Generator

	stopc chan struct{}
}

// NewServer starts listening on addr. Call Serve to accept
// connections. nodeID seeds subscriber id generation so ids stay
// unique across the cluster.
func NewServer(addr string, nodeID uint64, node raft.Node, fanout *FanOut, discovery membership.Discovery, st *store.Store) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("clientproto: listen %s: %w", addr, err)
	}
	return &Server{
		ln:        ln,
		node:      node,
		fanout:    fanout,
		discovery: discovery,
		store:     st,
		idGen:     idutil.NewGenerator(uint16(nodeID), time.Now()),
		stopc:     make(chan struct{}),
	}, nil
}

// Addr returns the server's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopc:
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	close(s.stopc)
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(roleDetectTimeout))
	tag := make([]byte, roleTagLen)
	if _, err := readFull(conn, tag); err != nil {
		logger.Warningf("clientproto: role detection failed from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	switch string(tag) {
	case publisherRoleTag:
		s.handlePublisher(conn)
	case subscriberRoleTag:
		s.handleSubscriber(conn)
	default:
		logger.Warningf("clientproto: unknown role tag %q from %s", tag, conn.RemoteAddr())
		conn.Close()
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// leaderRedirectAddr returns the client address of the current raft
// leader, if known, for redirecting a write proposed at a follower.
func (s *Server) leaderRedirectAddr() (string, bool) {
	leaderID := s.node.Status().Leader
	if leaderID == raft.NoLeader {
		return "", false
	}
	for _, p := range s.discovery.KnownPeers() {
		if p.NodeID == leaderID {
			return fmt.Sprintf("%s:%d", p.Host, p.ClientPort), true
		}
	}
	return "", false
}
