package membership

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gyuho/brokerd/pkg/probing"
	"github.com/gyuho/brokerd/pkg/xlog"
)

var logger = xlog.NewLogger("membership", xlog.INFO)

const (
	scanInterval  = 5 * time.Second
	dialTimeout   = 500 * time.Millisecond
	probeInterval = 2 * time.Second
)

// raftStatus mirrors the subset of the /raft admin endpoint body that
// scanning needs to learn a candidate's node id.
type raftStatus struct {
	NodeID uint64 `json:"node_id"`
}

// ScanDiscovery implements Discovery by scanning a contiguous port
// range on a fixed host set and probing each candidate for liveness: a
// node scans a configured port range on configured hosts (defaulting
// to loopback) and attempts a lightweight liveness RPC. Periodic
// rescans (every ~5s) detect new nodes.
type ScanDiscovery struct {
	self Peer

	hosts          []string
	basePort       int
	maxClusterSize int
	graceWindow    time.Duration

	client *http.Client
	prober probing.Prober

	mu    sync.RWMutex
	peers map[uint64]*peerRecord

	stopc chan struct{}
	donec chan struct{}
}

// NewScanDiscovery starts a ScanDiscovery rooted at self, scanning
// client ports basePort..basePort+maxClusterSize on each of hosts
// (defaulting to loopback if empty). electionTimeout sizes the grace
// window (3x) after which an unreachable peer is marked LOST.
func NewScanDiscovery(self Peer, hosts []string, basePort, maxClusterSize int, electionTimeout time.Duration) *ScanDiscovery {
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}
	d := &ScanDiscovery{
		self:           self,
		hosts:          hosts,
		basePort:       basePort,
		maxClusterSize: maxClusterSize,
		graceWindow:    3 * electionTimeout,
		client:         &http.Client{Timeout: dialTimeout},
		prober:         probing.NewProber(nil),
		peers:          make(map[uint64]*peerRecord),
		stopc:          make(chan struct{}),
		donec:          make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *ScanDiscovery) run() {
	defer close(d.donec)

	d.scanOnce()

	tk := time.NewTicker(scanInterval)
	defer tk.Stop()
	for {
		select {
		case <-d.stopc:
			return
		case <-tk.C:
			d.scanOnce()
			d.sweepLost()
		}
	}
}

func (d *ScanDiscovery) scanOnce() {
	for _, host := range d.hosts {
		for port := d.basePort; port < d.basePort+d.maxClusterSize; port++ {
			if host == d.self.Host && port == d.self.ClientPort {
				continue
			}
			d.probeCandidate(host, port)
		}
	}
}

func (d *ScanDiscovery) probeCandidate(host string, clientPort int) {
	adminPort := clientPort + 2000
	peerRPCPort := clientPort + 1000

	addr := fmt.Sprintf("%s:%d", host, peerRPCPort)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return
	}
	conn.Close()

	nodeID, ok := d.fetchNodeID(host, adminPort)
	if !ok {
		return
	}

	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	r, known := d.peers[nodeID]
	if !known {
		r = &peerRecord{peer: Peer{
			NodeID:        nodeID,
			Host:          host,
			ClientPort:    clientPort,
			PeerRPCPort:   peerRPCPort,
			AdminHTTPPort: adminPort,
		}}
		d.peers[nodeID] = r

		probeID := fmt.Sprintf("%d", nodeID)
		endpoint := fmt.Sprintf("http://%s:%d/status", host, adminPort)
		if err := d.prober.AddHTTP(probeID, probeInterval, []string{endpoint}); err != nil {
			logger.Warningf("membership: add probe for %d: %v", nodeID, err)
		}
	}
	r.peer.LastSeen = now
	r.lastOK = now
	r.lost = false
}

func (d *ScanDiscovery) fetchNodeID(host string, adminPort int) (uint64, bool) {
	url := fmt.Sprintf("http://%s:%d/raft", host, adminPort)
	resp, err := d.client.Get(url)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	var st raftStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return 0, false
	}
	return st.NodeID, true
}

// sweepLost marks peers that have failed both the peer-RPC dial and
// the admin-HTTP probe for longer than the grace window.
func (d *ScanDiscovery) sweepLost() {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for id, r := range d.peers {
		if r.lost {
			continue
		}

		httpHealthy := false
		if st, err := d.prober.Status(fmt.Sprintf("%d", id)); err == nil {
			httpHealthy = st.Health()
		}
		if httpHealthy {
			r.lastOK = now
			continue
		}

		if now.Sub(r.lastOK) > d.graceWindow {
			r.lost = true
			logger.Infof("membership: peer %d marked LOST after %s unreachable", id, d.graceWindow)
		}
	}
}

func (d *ScanDiscovery) KnownPeers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return clonePeers(d.peers, false)
}

// ElectionSnapshot returns a copy of the live peer set at the moment
// of the call; a caller that holds onto the returned slice sees one
// fixed view even while the background scan updates the peer map.
func (d *ScanDiscovery) ElectionSnapshot() []Peer {
	return d.KnownPeers()
}

func (d *ScanDiscovery) Self() Peer { return d.self }

func (d *ScanDiscovery) Close() {
	select {
	case <-d.donec:
	default:
		close(d.stopc)
		<-d.donec
	}
	d.prober.RemoveAll()
}
