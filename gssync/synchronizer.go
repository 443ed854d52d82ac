package gssync

import (
	"bytes"
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/casper-ecosystem/gssync/accumulator"
	"github.com/casper-ecosystem/gssync/core/types"
	"github.com/casper-ecosystem/gssync/log"
	"github.com/casper-ecosystem/gssync/metrics"
)

// DefaultMaxParallelTrieFetches is used when a non-positive value is passed
// to New.
const DefaultMaxParallelTrieFetches = 16

// event is the internal union of the event kinds the Synchronizer reacts
// to: Submit, NodeFetched and NodeInserted. The fourth kind,
// AccumulatorInternal (peer-misbehavior announcements and the like), is
// handled by the accumulator itself and surfaced on its own side channel;
// it never enters this event set.
type event interface{ isEvent() }

type submitEvent struct{ req SyncRequest }

func (submitEvent) isEvent() {}

type nodeFetchedEvent struct {
	hash types.Hash
	data []byte
	err  error
}

func (nodeFetchedEvent) isEvent() {}

type nodeInsertedEvent struct {
	hash     types.Hash
	children []types.Hash
	err      error
}

func (nodeInsertedEvent) isEvent() {}

// Synchronizer is the Global State Synchronizer: a single-threaded
// cooperative event loop (run by Run) that owns all request bookkeeping
// exclusively and mutates it only while processing events. Callers talk to
// it only through Submit and the event channel; there is no lock on
// synchronizer state because there is no shared mutability across
// goroutines — the request maps are touched only by the Run goroutine.
type Synchronizer struct {
	acc         *accumulator.Accumulator
	store       StoreAdapter
	maxParallel int
	events      chan event
	log         *log.Logger

	requests       map[BlockKey]*requestState
	order          []BlockKey
	cursor         int
	hashIndex      map[types.Hash]mapset.Set[BlockKey]
	globalInFlight mapset.Set[types.Hash]

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Synchronizer. maxParallelTrieFetches is the one tunable of
// the subsystem; a value <= 0 uses DefaultMaxParallelTrieFetches.
func New(acc *accumulator.Accumulator, store StoreAdapter, maxParallelTrieFetches int) *Synchronizer {
	if maxParallelTrieFetches <= 0 {
		maxParallelTrieFetches = DefaultMaxParallelTrieFetches
	}
	return &Synchronizer{
		acc:            acc,
		store:          store,
		maxParallel:    maxParallelTrieFetches,
		events:         make(chan event, 256),
		log:            log.Default().Module("gssync"),
		requests:       make(map[BlockKey]*requestState),
		hashIndex:      make(map[types.Hash]mapset.Set[BlockKey]),
		globalInFlight: mapset.NewThreadUnsafeSet[types.Hash](),
	}
}

// Submit registers a sync request. It never blocks on the request's
// outcome; completion is reported later via req.Completion, exactly once
// (P4). Submit itself only enqueues the request for the Run loop; it is
// safe to call from any goroutine, including from within a completion
// callback.
func (s *Synchronizer) Submit(req SyncRequest) {
	s.events <- submitEvent{req: req}
}

// Stats returns a snapshot of synchronizer counters, safe to call
// concurrently with Run.
func (s *Synchronizer) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Run drives the event loop until ctx is cancelled. Each iteration drains
// every event already queued (so back-to-back Submit calls are folded into
// a single scheduling pass, which is what makes request coalescing see the
// full peer set rather than racing a fetch already underway) and then runs
// the scheduler once.
func (s *Synchronizer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.applyEvent(ctx, ev)
			s.drainQueued(ctx)
			s.schedule(ctx)
		}
	}
}

func (s *Synchronizer) drainQueued(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			s.applyEvent(ctx, ev)
		default:
			return
		}
	}
}

func (s *Synchronizer) applyEvent(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case submitEvent:
		s.handleSubmit(e.req)
	case nodeFetchedEvent:
		s.handleNodeFetched(ctx, e.hash, e.data, e.err)
	case nodeInsertedEvent:
		s.handleNodeInserted(e.hash, e.children, e.err)
	}
}

// handleSubmit creates a fresh request for an unseen BlockKey, or merges
// peers into the existing one. A duplicate BlockKey's callback fires
// immediately with ErrDuplicateRequest rather than being silently dropped
// or queued separately; see DESIGN.md for why.
func (s *Synchronizer) handleSubmit(req SyncRequest) {
	if existing, ok := s.requests[req.BlockKey]; ok {
		existing.mergePeers(req.Peers)
		if req.Completion != nil {
			req.Completion(ErrDuplicateRequest)
		}
		return
	}

	rs := newRequestState(req.Root, req.Peers, req.Completion)
	s.requests[req.BlockKey] = rs
	s.order = append(s.order, req.BlockKey)
	s.indexHash(req.Root, req.BlockKey)
}

// handleNodeFetched handles a completed (or failed) accumulator fetch.
func (s *Synchronizer) handleNodeFetched(ctx context.Context, hash types.Hash, data []byte, err error) {
	if err != nil {
		s.failAffected(hash, func(h types.Hash) error { return &AccumulatorError{Hash: h, Err: err} })
		return
	}
	// Bytes are handed to the store; request state (missing / in_flight) is
	// not mutated until the matching NodeInserted event arrives.
	store := s.store
	go func() {
		children, err := store.InsertAndFindMissingChildren(data)
		s.events <- nodeInsertedEvent{hash: hash, children: children, err: err}
	}()
}

// handleNodeInserted handles the result of a store insertion.
func (s *Synchronizer) handleNodeInserted(hash types.Hash, children []types.Hash, err error) {
	if err != nil {
		s.failAffected(hash, func(h types.Hash) error { return &StoreError{Hash: h, Err: err} })
		return
	}

	affected := s.affectedKeys(hash)
	s.globalInFlight.Remove(hash)
	delete(s.hashIndex, hash)

	for _, key := range affected {
		rs, ok := s.requests[key]
		if !ok || !rs.references(hash) {
			continue
		}
		rs.inFlight.Remove(hash)
		rs.missing.Remove(hash)
		for _, child := range children {
			if rs.inFlight.Contains(child) {
				continue
			}
			if rs.missing.Add(child) {
				s.indexHash(child, key)
			}
		}
	}
}

// failAffected removes every Request referencing hash and fires its
// completion with the error mkErr produces, per the fault-isolation
// invariant P5: only Requests reachable through hash are touched.
func (s *Synchronizer) failAffected(hash types.Hash, mkErr func(types.Hash) error) {
	affected := s.affectedKeys(hash)
	s.globalInFlight.Remove(hash)
	delete(s.hashIndex, hash)

	for _, key := range affected {
		rs, ok := s.requests[key]
		if !ok || !rs.references(hash) {
			continue
		}
		s.removeRequest(key)
		s.statsMu.Lock()
		s.stats.Failed++
		s.statsMu.Unlock()
		metrics.SyncRequestsFailed.Inc()
		err := mkErr(hash)
		s.log.Warn("request failed", "block_key", key.Hex(), "hash", hash.Hex(), "err", err)
		if rs.completion != nil {
			rs.completion(err)
		}
	}
}

// affectedKeys returns a snapshot of the BlockKeys currently referencing
// hash, safe to range over while the caller mutates s.requests/hashIndex.
func (s *Synchronizer) affectedKeys(hash types.Hash) []BlockKey {
	set, ok := s.hashIndex[hash]
	if !ok {
		return nil
	}
	return set.ToSlice()
}

func (s *Synchronizer) indexHash(hash types.Hash, key BlockKey) {
	set, ok := s.hashIndex[hash]
	if !ok {
		set = mapset.NewThreadUnsafeSet[BlockKey]()
		s.hashIndex[hash] = set
	}
	set.Add(key)
}

// removeRequest deletes a BlockKey's bookkeeping. It does not touch
// hashIndex. A settled request has empty missing/in_flight sets and no
// index entries left; failAffected deletes only the failing hash's entry,
// so the failed request's other hashes keep stale entries, which readers
// skip via the s.requests lookup and the references check.
func (s *Synchronizer) removeRequest(key BlockKey) {
	delete(s.requests, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// schedule runs the scheduler's settle-then-dispatch pass. It runs after
// every event.
func (s *Synchronizer) schedule(ctx context.Context) {
	settled := make([]BlockKey, 0)
	for _, key := range s.order {
		if rs, ok := s.requests[key]; ok && rs.settled() {
			settled = append(settled, key)
		}
	}

	s.dispatch(ctx)

	for _, key := range settled {
		rs, ok := s.requests[key]
		if !ok {
			continue
		}
		s.removeRequest(key)
		s.statsMu.Lock()
		s.stats.Completed++
		s.statsMu.Unlock()
		metrics.SyncRequestsCompleted.Inc()
		s.log.Debug("request settled", "block_key", key.Hex())
		if rs.completion != nil {
			rs.completion(nil)
		}
	}

	s.statsMu.Lock()
	s.stats.ActiveRequests = len(s.requests)
	s.stats.GlobalInFlight = s.globalInFlight.Cardinality()
	s.statsMu.Unlock()
	metrics.SyncActiveRequests.Set(int64(len(s.requests)))
	metrics.SyncGlobalInFlight.Set(int64(s.globalInFlight.Cardinality()))
}

// dispatch is the fair-share scheduler. It repeatedly walks the requests
// in round-robin order; on each pass, every request first absorbs, at
// zero cost, any of its missing hashes that some other request already
// has in flight (coalescing), then — if headroom remains — issues at
// most one brand-new network fetch. Passes repeat until headroom is
// exhausted or a full pass makes no progress,
// which is what lets a single request receive several hashes in one
// scheduling round once earlier requests stop consuming headroom (see
// the two-level-trie scenario in the test suite).
func (s *Synchronizer) dispatch(ctx context.Context) {
	headroom := s.maxParallel - s.globalInFlight.Cardinality()
	if len(s.order) == 0 {
		return
	}

	progress := true
	for headroom > 0 && progress {
		progress = false
		n := len(s.order)
		for i := 0; i < n; i++ {
			key := s.order[(s.cursor+i)%n]
			rs, ok := s.requests[key]
			if !ok {
				continue
			}

			for _, h := range rs.missing.ToSlice() {
				if s.globalInFlight.Contains(h) {
					rs.missing.Remove(h)
					rs.inFlight.Add(h)
					s.indexHash(h, key)
				}
			}

			if headroom <= 0 {
				continue
			}
			h, ok := pickOne(rs.missing)
			if !ok {
				continue
			}
			rs.missing.Remove(h)
			rs.inFlight.Add(h)
			s.globalInFlight.Add(h)
			s.indexHash(h, key)
			s.issueFetch(ctx, h)
			headroom--
			progress = true
		}
	}

	if n := len(s.order); n > 0 {
		s.cursor = (s.cursor + 1) % n
	}
}

// issueFetch hands hash to the accumulator on behalf of the union of
// peers of every request currently referencing it, and posts the result
// back onto the event channel for the Run loop to process.
func (s *Synchronizer) issueFetch(ctx context.Context, hash types.Hash) {
	peers := s.unionPeersForHash(hash)
	acc := s.acc
	s.statsMu.Lock()
	s.stats.FetchesDispatched++
	s.statsMu.Unlock()
	go func() {
		data, err := acc.Fetch(ctx, hash, peers)
		s.events <- nodeFetchedEvent{hash: hash, data: data, err: err}
	}()
}

func (s *Synchronizer) unionPeersForHash(hash types.Hash) []accumulator.PeerID {
	union := mapset.NewThreadUnsafeSet[accumulator.PeerID]()
	for _, key := range s.affectedKeys(hash) {
		if rs, ok := s.requests[key]; ok {
			for _, p := range rs.peerSlice() {
				union.Add(p)
			}
		}
	}
	return union.ToSlice()
}

// pickOne deterministically selects the lexicographically smallest hash
// in a set, so that scheduling order is reproducible in tests.
func pickOne(set mapset.Set[types.Hash]) (types.Hash, bool) {
	var best types.Hash
	found := false
	set.Each(func(h types.Hash) bool {
		if !found || bytes.Compare(h[:], best[:]) < 0 {
			best = h
			found = true
		}
		return false
	})
	return best, found
}
