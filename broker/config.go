package broker

import "time"

// Config holds everything needed to start one node.
type Config struct {
	NodeID uint64

	Host       string
	ClientPort int // BROKER_PORT
	HTTPPort   int // HTTP_PORT

	// ScanHosts lists the hosts membership.ScanDiscovery probes for
	// peers, in addition to Host itself. Defaults to []string{Host}
	// when empty.
	ScanHosts []string

	// ScanBasePort is the low end of the client-port range
	// membership.ScanDiscovery scans. Every node in a cluster must be
	// given the same ScanBasePort (conventionally the lowest
	// BROKER_PORT in the deployment) so discovery is symmetric: a node
	// with a high port still scans down to find peers with lower
	// ports. Defaults to ClientPort, which only works correctly for
	// the single lowest-numbered node in the cluster.
	ScanBasePort int

	// MaxClusterSize bounds the membership scan range (default 20).
	MaxClusterSize int

	DataDir string

	ElectionTickNum  int
	HeartbeatTickNum int
	TickInterval     time.Duration
}

// PeerRPCPort is BROKER_PORT + 1000.
func (c Config) PeerRPCPort() int { return c.ClientPort + 1000 }

// AdminHTTPPort is the configured HTTP_PORT.
func (c Config) AdminHTTPPort() int { return c.HTTPPort }

func setDefaults(c *Config) {
	if c.MaxClusterSize == 0 {
		c.MaxClusterSize = 20
	}
	if c.ElectionTickNum == 0 {
		c.ElectionTickNum = 10
	}
	if c.HeartbeatTickNum == 0 {
		c.HeartbeatTickNum = 1
	}
	if c.TickInterval == 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.ScanBasePort == 0 {
		c.ScanBasePort = c.ClientPort
	}
	if c.HTTPPort == 0 {
		// membership.ScanDiscovery assumes this fixed offset when
		// probing a scanned client port for its admin endpoint, since
		// scanning cannot otherwise know an independently configured
		// HTTP_PORT ahead of time.
		c.HTTPPort = c.ClientPort + 2000
	}
}
