package accumulator

import (
	"github.com/casper-ecosystem/gssync/core/types"
	"github.com/casper-ecosystem/gssync/crypto"
)

// MerkleChunkVerifier checks a chunk's inclusion proof against the target
// node's content hash, treating that hash as the root of a binary Merkle
// tree over the node's constituent chunks. This mirrors the simplified
// commitment-inclusion scheme used for column proofs elsewhere in this
// codebase: a pad-to-even binary tree of Keccak256 leaves, climbing to the
// root one sibling at a time.
type MerkleChunkVerifier struct{}

// VerifyChunk implements ChunkVerifier.
func (MerkleChunkVerifier) VerifyChunk(root types.Hash, totalChunks uint64, chunk ChunkData) bool {
	if totalChunks == 0 || chunk.Index >= totalChunks {
		return false
	}
	if totalChunks > 1 && len(chunk.Proof) == 0 {
		return false
	}

	cur := crypto.Keccak256Hash(chunk.Data)
	idx := chunk.Index

	for _, sib := range chunk.Proof {
		if len(sib) != len(types.Hash{}) {
			return false
		}
		var sibHash types.Hash
		copy(sibHash[:], sib)
		if idx%2 == 0 {
			cur = crypto.Keccak256Hash(cur[:], sibHash[:])
		} else {
			cur = crypto.Keccak256Hash(sibHash[:], cur[:])
		}
		idx /= 2
	}
	return cur == root
}
