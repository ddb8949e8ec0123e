// Command brokerd starts a single broker node, configured entirely
// from environment variables.
//
// (gyuho-db/raft-example/main.go's start/config wiring, adapted from
// a fixed three-node demo into one env-var driven process)
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gyuho/brokerd/broker"
	"github.com/gyuho/brokerd/pkg/fileutil"
	"github.com/gyuho/brokerd/pkg/osutil"
	"github.com/gyuho/brokerd/pkg/types"
	"github.com/gyuho/brokerd/pkg/xlog"
	"github.com/gyuho/brokerd/pkg/xlog/rotate"
)

var logger = xlog.NewLogger("brokerd", xlog.INFO)

func init() {
	xlog.SetGlobalMaxLogLevel(xlog.INFO)

	if dir := os.Getenv("BROKER_LOG_DIR"); dir != "" {
		ft, err := rotate.NewFormatter(rotate.Config{
			Dir:            dir,
			RotateFileSize: 64 << 20,
			RotateDuration: 24 * time.Hour,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "brokerd: rotate log formatter:", err)
			os.Exit(1)
		}
		xlog.SetFormatter(ft)
	}
}

func main() {
	cfg, err := configFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "brokerd:", err)
		os.Exit(1)
	}

	n, err := broker.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "brokerd:", err)
		os.Exit(1)
	}

	pidFile := envOr("BROKER_PID_FILE", filepath.Join(cfg.DataDir, "brokerd.pid"))
	if err := writePIDFile(pidFile); err != nil {
		fmt.Fprintln(os.Stderr, "brokerd:", err)
		os.Exit(1)
	}

	osutil.RegisterInterruptHandler(n.Stop)
	osutil.RegisterInterruptHandler(func() {
		if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
			logger.Warningf("brokerd: remove pid file %s: %v", pidFile, err)
		}
	})
	osutil.WaitForInterruptSignals(syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	<-n.Done()
	logger.Infof("brokerd: node %d stopped", cfg.NodeID)
}

// writePIDFile records this process's PID at fpath, creating fpath's
// parent directory if needed so BROKER_PID_FILE can point outside
// BROKER_DATA_DIR.
func writePIDFile(fpath string) error {
	if err := fileutil.MkdirAll(filepath.Dir(fpath)); err != nil {
		return fmt.Errorf("create pid file dir: %w", err)
	}
	f, err := fileutil.OpenToOverwrite(fpath)
	if err != nil {
		return fmt.Errorf("open pid file %s: %w", fpath, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid file %s: %w", fpath, err)
	}
	return nil
}

func configFromEnv() (broker.Config, error) {
	nodeID, err := requireUint64("BROKER_NODE_ID")
	if err != nil {
		return broker.Config{}, err
	}
	clientPort, err := requireInt("BROKER_PORT")
	if err != nil {
		return broker.Config{}, err
	}

	cfg := broker.Config{
		NodeID:     nodeID,
		ClientPort: clientPort,
		Host:       envOr("BROKER_HOST", "0.0.0.0"),
		DataDir:    envOr("BROKER_DATA_DIR", fmt.Sprintf("/var/lib/brokerd/%d", nodeID)),
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return broker.Config{}, fmt.Errorf("HTTP_PORT: %v", err)
		}
		cfg.HTTPPort = port
	}
	if v := os.Getenv("MAX_CLUSTER_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return broker.Config{}, fmt.Errorf("MAX_CLUSTER_SIZE: %v", err)
		}
		cfg.MaxClusterSize = size
	}
	if v := os.Getenv("ELECTION_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return broker.Config{}, fmt.Errorf("ELECTION_TIMEOUT_MS: %v", err)
		}
		cfg.ElectionTickNum = ms / 100
	}
	if v := os.Getenv("BROKER_SCAN_BASE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return broker.Config{}, fmt.Errorf("BROKER_SCAN_BASE_PORT: %v", err)
		}
		cfg.ScanBasePort = port
	}
	if v := os.Getenv("BROKER_SCAN_HOSTS"); v != "" {
		hosts, err := scanHostsFromURLs(strings.Split(v, ","))
		if err != nil {
			return broker.Config{}, fmt.Errorf("BROKER_SCAN_HOSTS: %v", err)
		}
		cfg.ScanHosts = hosts
	}

	return cfg, nil
}

// scanHostsFromURLs parses a comma-separated list of peer URLs (e.g.
// "http://10.0.0.1:0,http://10.0.0.2:0") the way peer address lists
// are validated elsewhere in this tree, and returns just the
// hostnames membership.ScanDiscovery scans.
func scanHostsFromURLs(raw []string) ([]string, error) {
	urls, err := types.NewURLs(raw)
	if err != nil {
		return nil, err
	}
	hosts := make([]string, len(urls))
	for i, u := range urls {
		hosts[i] = u.Hostname()
	}
	return hosts, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	return n, nil
}

func requireUint64(key string) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	return n, nil
}
