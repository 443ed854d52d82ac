package gssync

import "github.com/casper-ecosystem/gssync/core/types"

// StoreAdapter is the external contract for the persistent trie store. It
// exposes exactly one mandatory operation: insert one encoded trie node and
// report the child hashes it references that are not yet present locally.
//
// Implementations are responsible for decoding the node, verifying its
// digest, persisting it atomically, and computing the not-yet-present child
// set. An empty result means the node is a leaf or all of its children are
// already known locally.
type StoreAdapter interface {
	InsertAndFindMissingChildren(data []byte) ([]types.Hash, error)
}
