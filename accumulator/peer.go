package accumulator

import (
	"context"

	"github.com/casper-ecosystem/gssync/core/types"
)

// PeerID is an opaque identifier for a remote peer. The transport that
// resolves a PeerID to an actual connection is external to this package.
type PeerID string

// NodeResponse is what a peer returns for a RequestNode call: either the
// whole encoded trie node, or the header of a chunked response (the first
// chunk plus the declared total chunk count).
type NodeResponse struct {
	// Whole holds the complete encoded node, if the peer answered directly.
	Whole []byte
	// Chunked holds the first chunk and chunk-count declaration, if the
	// peer is serving the node as a sequence of proof-carrying chunks.
	// Exactly one of Whole / Chunked is set.
	Chunked *ChunkedHeader
}

// ChunkedHeader is the header of a chunked node response.
type ChunkedHeader struct {
	TotalChunks uint64
	First       ChunkData
}

// ChunkData is a single proof-carrying chunk of a large trie node.
type ChunkData struct {
	Index uint64
	Data  []byte
	Proof [][]byte
}

// PeerFetcher is the transport contract this package relies on. It is
// assumed to be backed by a real peer-to-peer network layer; callers
// supply an implementation (production code talks to the network, tests
// use FakePeerFetcher).
type PeerFetcher interface {
	// RequestNode asks peer for the trie node with the given hash. The
	// peer may answer with the whole node or the start of a chunked
	// transfer.
	RequestNode(ctx context.Context, peer PeerID, hash types.Hash) (NodeResponse, error)
	// RequestChunk asks peer for a specific chunk index of the node
	// identified by hash.
	RequestChunk(ctx context.Context, peer PeerID, hash types.Hash, index uint64) (ChunkData, error)
}

// ChunkVerifier checks a chunk's proof against the node's root digest.
// Chunk-proof construction and verification is assumed to be provided by
// the chunking sub-protocol; this package only consumes the verdict.
type ChunkVerifier interface {
	VerifyChunk(root types.Hash, totalChunks uint64, chunk ChunkData) bool
}

// Announcer is the side channel used to report peer misbehavior.
// Implementations typically feed a peer blocklist / reputation system.
type Announcer interface {
	AnnounceMisbehavingPeer(peer PeerID, reason string)
}

// NopAnnouncer discards all announcements.
type NopAnnouncer struct{}

// AnnounceMisbehavingPeer implements Announcer.
func (NopAnnouncer) AnnounceMisbehavingPeer(PeerID, string) {}
