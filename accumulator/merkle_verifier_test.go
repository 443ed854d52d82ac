package accumulator

import (
	"testing"

	"github.com/casper-ecosystem/gssync/core/types"
	"github.com/casper-ecosystem/gssync/crypto"
)

// buildProof constructs a binary Merkle tree over leaves (padding to an
// even count by duplicating the last leaf) and returns the root plus the
// sibling-hash proof for leaves[idx].
func buildProof(leaves [][]byte, idx int) (types.Hash, [][]byte) {
	level := make([]types.Hash, len(leaves))
	for i, l := range leaves {
		level[i] = crypto.Keccak256Hash(l)
	}

	var proof [][]byte
	cur := idx
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		sibling := cur ^ 1
		sibHash := level[sibling]
		proof = append(proof, append([]byte(nil), sibHash[:]...))

		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = crypto.Keccak256Hash(level[i][:], level[i+1][:])
		}
		level = next
		cur /= 2
	}
	return level[0], proof
}

func TestMerkleChunkVerifierAccepts(t *testing.T) {
	leaves := [][]byte{[]byte("chunk0"), []byte("chunk1"), []byte("chunk2")}
	root, proof := buildProof(leaves, 1)

	v := MerkleChunkVerifier{}
	ok := v.VerifyChunk(root, uint64(len(leaves)), ChunkData{Index: 1, Data: leaves[1], Proof: proof})
	if !ok {
		t.Fatal("expected chunk 1 to verify against its computed root")
	}
}

func TestMerkleChunkVerifierRejectsWrongData(t *testing.T) {
	leaves := [][]byte{[]byte("chunk0"), []byte("chunk1"), []byte("chunk2"), []byte("chunk3")}
	root, proof := buildProof(leaves, 2)

	v := MerkleChunkVerifier{}
	ok := v.VerifyChunk(root, uint64(len(leaves)), ChunkData{Index: 2, Data: []byte("tampered"), Proof: proof})
	if ok {
		t.Fatal("expected verification to fail for tampered chunk data")
	}
}

func TestMerkleChunkVerifierRejectsBadSibling(t *testing.T) {
	leaves := [][]byte{[]byte("chunk0"), []byte("chunk1")}
	root, proof := buildProof(leaves, 0)
	proof[0][0] ^= 0xff

	v := MerkleChunkVerifier{}
	ok := v.VerifyChunk(root, uint64(len(leaves)), ChunkData{Index: 0, Data: leaves[0], Proof: proof})
	if ok {
		t.Fatal("expected verification to fail for corrupted sibling hash")
	}
}

func TestMerkleChunkVerifierSingleChunkNoProof(t *testing.T) {
	leaf := []byte("only chunk")
	root := crypto.Keccak256Hash(leaf)

	v := MerkleChunkVerifier{}
	ok := v.VerifyChunk(root, 1, ChunkData{Index: 0, Data: leaf})
	if !ok {
		t.Fatal("a single-chunk node should verify with an empty proof against its own hash")
	}
}

func TestMerkleChunkVerifierRejectsOutOfRangeIndex(t *testing.T) {
	v := MerkleChunkVerifier{}
	ok := v.VerifyChunk(types.Hash{}, 3, ChunkData{Index: 5, Data: []byte("x")})
	if ok {
		t.Fatal("expected verification to fail for an index >= totalChunks")
	}
}

func TestMerkleChunkVerifierRejectsZeroTotal(t *testing.T) {
	v := MerkleChunkVerifier{}
	ok := v.VerifyChunk(types.Hash{}, 0, ChunkData{Index: 0, Data: []byte("x")})
	if ok {
		t.Fatal("expected verification to fail when totalChunks is 0")
	}
}
