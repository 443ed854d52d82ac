package gssync

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/casper-ecosystem/gssync/accumulator"
	"github.com/casper-ecosystem/gssync/core/types"
)

// requestState is the live bookkeeping for one BlockKey's sync, matching
// the Request record of the data model: a frontier of known-missing hashes,
// the set currently being fetched on its behalf, and the peer set to fetch
// with.
type requestState struct {
	root       types.Hash
	peers      mapset.Set[accumulator.PeerID]
	missing    mapset.Set[types.Hash]
	inFlight   mapset.Set[types.Hash]
	completion func(error)
}

func newRequestState(root types.Hash, peers []accumulator.PeerID, completion func(error)) *requestState {
	peerSet := mapset.NewThreadUnsafeSet[accumulator.PeerID]()
	for _, p := range peers {
		peerSet.Add(p)
	}
	return &requestState{
		root:       root,
		peers:      peerSet,
		missing:    mapset.NewThreadUnsafeSet(root),
		inFlight:   mapset.NewThreadUnsafeSet[types.Hash](),
		completion: completion,
	}
}

// settled reports whether this request has no remaining work (invariant
// missing = ∅ ∧ in_flight = ∅).
func (r *requestState) settled() bool {
	return r.missing.Cardinality() == 0 && r.inFlight.Cardinality() == 0
}

// references reports whether hash is part of this request's frontier or
// currently being fetched on its behalf.
func (r *requestState) references(hash types.Hash) bool {
	return r.missing.Contains(hash) || r.inFlight.Contains(hash)
}

func (r *requestState) peerSlice() []accumulator.PeerID {
	return r.peers.ToSlice()
}

func (r *requestState) mergePeers(peers []accumulator.PeerID) {
	for _, p := range peers {
		r.peers.Add(p)
	}
}
