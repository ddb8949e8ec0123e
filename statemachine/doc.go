// Package statemachine is the replicated state machine that applies
// committed Raft entries deterministically. It never writes to the
// Durable Log Store directly; every effect goes through the
// writequeue Write Serializer, the same as a leader's own direct
// writes would, so replay on restart and cross-node application stay
// indistinguishable.
//
// (gyuho-db/rsm's architecture narrative, narrowed from a generic
// key-value apply loop to a PUBLISH/SUBSCRIBE/UNSUBSCRIBE/NOOP
// dispatch table; the per-entry effects mirror
// original_source/Broker/raft_node.py's _apply_to_state_machine)
package statemachine
