// Package membership answers one question for the rest of the
// broker: who else is in this cluster right now. It never reaches
// consensus on the answer across nodes; membership is eventually
// consistent here, and relies on Raft's own quorum check (not this
// package) to keep that imprecision from corrupting the log.
package membership
