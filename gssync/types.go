// Package gssync implements the Global State Synchronizer: given a set of
// "bring me the state at root R for block B from peer set P" requests, it
// drives the Trie Accumulator and a local store adapter to materialize each
// request's full trie, coalescing fetches that multiple requests need and
// keeping a single global bound on outstanding peer work.
package gssync

import (
	"fmt"

	"github.com/casper-ecosystem/gssync/accumulator"
	"github.com/casper-ecosystem/gssync/core/types"
)

// BlockKey identifies a single caller-issued sync request. Two requests
// sharing a BlockKey are merged rather than tracked separately.
type BlockKey [32]byte

// Hex renders the key as a 0x-prefixed hex string, primarily for logging.
func (k BlockKey) Hex() string {
	return types.BytesToHash(k[:]).Hex()
}

// SyncRequest is the inbound unit of work submitted by a caller.
type SyncRequest struct {
	BlockKey   BlockKey
	Root       types.Hash
	Peers      []accumulator.PeerID
	Completion func(error)
}

// ErrDuplicateRequest is returned (via Completion, not as a Submit return
// value) to the callback of a SyncRequest submitted for a BlockKey that
// already has an active request in flight. The existing request absorbs the
// new request's peer set; the existing request's own callback is the one
// that will eventually report the outcome of the sync. This resolves, in
// favor of invariant P4 (exactly-once completion), an ambiguity the source
// left implementation-defined: rather than silently dropping the new
// caller's responder, we tell it immediately that it was folded in.
var ErrDuplicateRequest = fmt.Errorf("gssync: duplicate request for block key")

// AccumulatorError wraps a failure surfaced by the Trie Accumulator while
// fetching a hash this request depended on.
type AccumulatorError struct {
	Hash types.Hash
	Err  error
}

func (e *AccumulatorError) Error() string {
	return fmt.Sprintf("gssync: accumulator fetch of %s failed: %v", e.Hash.Hex(), e.Err)
}

func (e *AccumulatorError) Unwrap() error { return e.Err }

// StoreError wraps a failure surfaced by the store adapter while inserting
// a node this request depended on.
type StoreError struct {
	Hash types.Hash
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("gssync: store insertion of %s failed: %v", e.Hash.Hex(), e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Stats is a snapshot of synchronizer activity, exposed for metrics.
type Stats struct {
	ActiveRequests   int
	GlobalInFlight   int
	FetchesDispatched uint64
	Completed         uint64
	Failed            uint64
}
