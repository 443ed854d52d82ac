package accumulator

import (
	"context"
	"errors"
	"sync"

	"github.com/casper-ecosystem/gssync/core/types"
)

// FakePeerFetcher is a deterministic, in-memory PeerFetcher used in tests.
// Nodes are registered per peer; RequestNode/RequestChunk look them up
// without touching any real network, following the request/deliver
// fetcher pattern used elsewhere in this codebase's gossip layer, adapted
// for synchronous lookups instead of channel delivery.
type FakePeerFetcher struct {
	mu      sync.Mutex
	whole   map[PeerID]map[types.Hash][]byte
	chunked map[PeerID]map[types.Hash]*fakeChunkedServing
	offline map[PeerID]bool
}

type fakeChunkedServing struct {
	total  uint64
	chunks map[uint64]ChunkData
}

// NewFakePeerFetcher creates an empty fake fetcher.
func NewFakePeerFetcher() *FakePeerFetcher {
	return &FakePeerFetcher{
		whole:   make(map[PeerID]map[types.Hash][]byte),
		chunked: make(map[PeerID]map[types.Hash]*fakeChunkedServing),
		offline: make(map[PeerID]bool),
	}
}

// ServeWhole registers that peer answers RequestNode(hash) with the full
// encoded node data.
func (f *FakePeerFetcher) ServeWhole(peer PeerID, hash types.Hash, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.whole[peer] == nil {
		f.whole[peer] = make(map[types.Hash][]byte)
	}
	f.whole[peer][hash] = data
}

// ServeChunked registers that peer answers RequestNode(hash) with a
// chunked header, and RequestChunk(hash, idx) with the given chunks.
func (f *FakePeerFetcher) ServeChunked(peer PeerID, hash types.Hash, total uint64, chunks map[uint64]ChunkData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunked[peer] == nil {
		f.chunked[peer] = make(map[types.Hash]*fakeChunkedServing)
	}
	f.chunked[peer][hash] = &fakeChunkedServing{total: total, chunks: chunks}
}

// SetOffline makes peer fail every request (simulating a dead connection).
func (f *FakePeerFetcher) SetOffline(peer PeerID, offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline[peer] = offline
}

var errFakePeerOffline = errors.New("accumulator: fake peer offline")
var errFakePeerNoData = errors.New("accumulator: fake peer has no data for hash")

// RequestNode implements PeerFetcher.
func (f *FakePeerFetcher) RequestNode(_ context.Context, peer PeerID, hash types.Hash) (NodeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline[peer] {
		return NodeResponse{}, errFakePeerOffline
	}
	if data, ok := f.whole[peer][hash]; ok {
		return NodeResponse{Whole: data}, nil
	}
	if serving, ok := f.chunked[peer][hash]; ok {
		first, ok := serving.chunks[0]
		if !ok {
			return NodeResponse{}, errFakePeerNoData
		}
		first.Index = 0
		return NodeResponse{Chunked: &ChunkedHeader{TotalChunks: serving.total, First: first}}, nil
	}
	return NodeResponse{}, errFakePeerNoData
}

// RequestChunk implements PeerFetcher.
func (f *FakePeerFetcher) RequestChunk(_ context.Context, peer PeerID, hash types.Hash, index uint64) (ChunkData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline[peer] {
		return ChunkData{}, errFakePeerOffline
	}
	serving, ok := f.chunked[peer][hash]
	if !ok {
		return ChunkData{}, errFakePeerNoData
	}
	chunk, ok := serving.chunks[index]
	if !ok {
		return ChunkData{}, errFakePeerNoData
	}
	chunk.Index = index
	return chunk, nil
}

// invalidProofMarker, when present as the sole proof element, makes
// FakeChunkVerifier reject the chunk. Used to simulate peer misbehavior.
var invalidProofMarker = []byte("invalid")

// BadProof returns a proof value that FakeChunkVerifier always rejects.
func BadProof() [][]byte { return [][]byte{invalidProofMarker} }

// GoodProof returns a proof value that FakeChunkVerifier always accepts.
func GoodProof() [][]byte { return [][]byte{[]byte("valid")} }

// FakeChunkVerifier accepts any chunk whose proof is not BadProof(). It
// stands in for a real cryptographic chunk-proof verifier.
type FakeChunkVerifier struct{}

// VerifyChunk implements ChunkVerifier.
func (FakeChunkVerifier) VerifyChunk(_ types.Hash, _ uint64, chunk ChunkData) bool {
	return !(len(chunk.Proof) == 1 && string(chunk.Proof[0]) == string(invalidProofMarker))
}

// RecordingAnnouncer collects misbehavior announcements for test
// assertions.
type RecordingAnnouncer struct {
	mu        sync.Mutex
	Announced []Announcement
}

// Announcement is a single misbehavior report.
type Announcement struct {
	Peer   PeerID
	Reason string
}

// AnnounceMisbehavingPeer implements Announcer.
func (r *RecordingAnnouncer) AnnounceMisbehavingPeer(peer PeerID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Announced = append(r.Announced, Announcement{Peer: peer, Reason: reason})
}

// Count returns the number of announcements recorded so far.
func (r *RecordingAnnouncer) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Announced)
}
