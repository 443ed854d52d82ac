package gssync

import (
	"errors"
	"sync"

	"github.com/casper-ecosystem/gssync/core/types"

	"github.com/casper-ecosystem/gssync/crypto"
)

// FakeStore is a deterministic, in-memory StoreAdapter used in tests. Each
// node's children are registered up front by hash; InsertAndFindMissingChildren
// looks them up and reports only the children not yet "locally present".
type FakeStore struct {
	mu       sync.Mutex
	children map[types.Hash][]types.Hash
	present  map[types.Hash]bool
	failOn   map[types.Hash]error
	inserts  []types.Hash
}

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		children: make(map[types.Hash][]types.Hash),
		present:  make(map[types.Hash]bool),
		failOn:   make(map[types.Hash]error),
	}
}

// SetChildren registers that inserting the node with this hash should
// report the given child hashes as missing (unless they have been marked
// Preload-ed).
func (f *FakeStore) SetChildren(hash types.Hash, children []types.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children[hash] = children
}

// Preload marks a hash (and, transitively, nothing else) as already
// present, so a future insert of a node referencing it reports it as
// non-missing. Used to model state left behind by a prior sync (P6).
func (f *FakeStore) Preload(hash types.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[hash] = true
}

// FailOn makes the next insertion of hash return err.
func (f *FakeStore) FailOn(hash types.Hash, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[hash] = err
}

// Inserts returns the hashes inserted so far, in call order.
func (f *FakeStore) Inserts() []types.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Hash, len(f.inserts))
	copy(out, f.inserts)
	return out
}

var errFakeStoreUnknownNode = errors.New("gssync: fake store has no registered children for hash")

// InsertAndFindMissingChildren implements StoreAdapter. The hash of a node
// is derived the same way the real store would: Keccak256 of its bytes.
func (f *FakeStore) InsertAndFindMissingChildren(data []byte) ([]types.Hash, error) {
	hash := crypto.Keccak256Hash(data)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.inserts = append(f.inserts, hash)

	if err, ok := f.failOn[hash]; ok {
		delete(f.failOn, hash)
		return nil, err
	}

	all, ok := f.children[hash]
	if !ok {
		return nil, errFakeStoreUnknownNode
	}

	var missing []types.Hash
	for _, c := range all {
		if f.present[c] {
			continue
		}
		missing = append(missing, c)
	}
	f.present[hash] = true
	return missing, nil
}
