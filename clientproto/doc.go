// Package clientproto implements the client-facing TCP protocol:
// publishers and subscribers each open a connection, announce their
// role with a fixed-size tag, and exchange line-oriented frames.
//
// (original_source/Broker/broker.py for exact wire semantics, adapted
// into a goroutine-per-connection idiom: one reader loop and one
// writer loop per connection, the writer draining a bounded outbound
// channel)
package clientproto
