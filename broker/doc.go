// Package broker wires one node's Durable Log Store, Write
// Serializer, Raft core, peer transport, cluster membership, state
// machine, and client-facing listeners into a single runnable unit:
// Node is an explicit per-node context. Nothing here is package-level
// global state, so a test can run several Nodes in one process.
//
// (gyuho-db/raft-example's config/startRaftNode wiring style, adapted
// from a single-purpose KV demo into the full set of components this
// system needs)
package broker
