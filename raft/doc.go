// Package raft implements leader election, log replication, and
// commit-index tracking for a cluster whose size changes at runtime.
//
// The core algorithm follows the Raft consensus protocol
// (https://raft.github.io/). Role, term, and log state live under a
// single mutex; each peer's replication progress (next/match index)
// lives under its own mutex, so replication fan-out never blocks on
// the core's lock. The public Node interface exposes this core
// through a channel-based Tick/Step/Propose/Ready/Advance API so the
// transport and storage layers never reach into the core directly.
package raft
