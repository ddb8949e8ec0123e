// Package rafthttp implements the HTTP transportation layer for Raft
// peer RPC: AppendEntries/RequestVote messages travel over this
// transport. There is no streaming long-poll connection or snapshot
// transfer, so this is a pipeline-only design.
//
// (gyuho-db/rafthttp, trimmed to the pipeline/urlPicker/http-handler
// shape: no streamWriter/streamReader/snapshotSender, since those
// exist to support log-compaction snapshotting, which this system
// does not have)
package rafthttp
