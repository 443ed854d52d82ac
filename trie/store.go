package trie

import (
	"github.com/VictoriaMetrics/fastcache"

	"github.com/casper-ecosystem/gssync/core/rawdb"
	"github.com/casper-ecosystem/gssync/core/types"
	"github.com/casper-ecosystem/gssync/crypto"
	"github.com/casper-ecosystem/gssync/metrics"
)

// trieNodeKeyPrefix namespaces trie node keys within the shared KVStore:
// the "t" prefix followed by the node's 32-byte hash.
const trieNodeKeyPrefix = 't'

func trieNodeKey(hash types.Hash) []byte {
	key := make([]byte, 1+len(hash))
	key[0] = trieNodeKeyPrefix
	copy(key[1:], hash[:])
	return key
}

// SyncStore is the reference StoreAdapter implementation (see
// gssync.StoreAdapter): it persists an inserted trie node, decodes it
// exactly via decodeNode to find its child hash references, and reports
// which of those are not yet present locally.
//
// It layers a bounded in-memory cache (fastcache) in front of a durable
// rawdb.KVStore. There is no separate dirty/uncommitted tier: every insert
// is written through to disk immediately, since the synchronizer has no
// notion of a commit boundary distinct from "the store accepted this
// node" — the cache exists purely to avoid round-tripping to disk for
// nodes fetched and checked repeatedly in a short window.
type SyncStore struct {
	cache *fastcache.Cache
	disk  rawdb.KVStore
}

// NewSyncStore creates a store adapter with a cache of the given size in
// bytes, backed durably by disk.
func NewSyncStore(disk rawdb.KVStore, cacheSizeBytes int) *SyncStore {
	if cacheSizeBytes <= 0 {
		cacheSizeBytes = 32 * 1024 * 1024
	}
	return &SyncStore{
		cache: fastcache.New(cacheSizeBytes),
		disk:  disk,
	}
}

// Has reports whether the node with the given hash is already known,
// checking the cache before falling back to disk.
func (s *SyncStore) Has(hash types.Hash) (bool, error) {
	if s.cache.Has(hash[:]) {
		return true, nil
	}
	return s.disk.Has(trieNodeKey(hash))
}

// Node retrieves a trie node's encoded bytes by hash.
func (s *SyncStore) Node(hash types.Hash) ([]byte, error) {
	if data, ok := s.cache.HasGet(nil, hash[:]); ok {
		metrics.StoreCacheHits.Inc()
		return data, nil
	}
	data, err := s.disk.Get(trieNodeKey(hash))
	if err != nil {
		return nil, err
	}
	s.cache.Set(hash[:], data)
	return data, nil
}

// InsertAndFindMissingChildren implements gssync.StoreAdapter. It persists
// the node, then decodes it to discover child hash references and reports
// exactly those not already present locally.
func (s *SyncStore) InsertAndFindMissingChildren(data []byte) ([]types.Hash, error) {
	hash := crypto.Keccak256Hash(data)

	if err := s.disk.Put(trieNodeKey(hash), data); err != nil {
		return nil, err
	}
	s.cache.Set(hash[:], data)
	metrics.StoreNodesInserted.Inc()

	n, err := decodeNode(data)
	if err != nil {
		// A value node (raw leaf bytes with no trie structure, e.g. an
		// account blob or contract code chunk) is not decodable as a trie
		// node; it has no children by definition.
		return nil, nil
	}

	var refs []types.Hash
	collectChildHashes(n, &refs)

	var missing []types.Hash
	for _, child := range refs {
		present, err := s.Has(child)
		if err != nil {
			return nil, err
		}
		if !present {
			missing = append(missing, child)
		}
	}
	return missing, nil
}

// collectChildHashes walks one decoded node level and appends every
// concrete hash reference it finds. It does not recurse past a nodeHash
// boundary — those name children that have not been fetched yet, which is
// exactly the set InsertAndFindMissingChildren needs to report.
func collectChildHashes(n node, out *[]types.Hash) {
	switch n := n.(type) {
	case *shortNode:
		appendIfHash(n.Val, out)
	case *branchNode:
		for i := 0; i < 16; i++ {
			appendIfHash(n.Children[i], out)
		}
	}
}

func appendIfHash(n node, out *[]types.Hash) {
	switch n := n.(type) {
	case nodeHash:
		if len(n) == 32 {
			*out = append(*out, types.BytesToHash(n))
		}
	case *shortNode:
		// An inline shortNode embedded in its parent (too small to have
		// been hashed out on its own) may itself reference a hashed child
		// one level down; walk through it.
		appendIfHash(n.Val, out)
	case *branchNode:
		for i := 0; i < 16; i++ {
			appendIfHash(n.Children[i], out)
		}
	}
}
