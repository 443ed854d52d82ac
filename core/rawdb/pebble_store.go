package rawdb

import (
	"github.com/cockroachdb/pebble"
)

// PebbleStore is a KVStore backed by a pebble LSM-tree database, used as
// the durable layer beneath the trie node store and any other persistent
// state this node keeps across restarts.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (creating if necessary) a pebble database at path.
func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// Get implements KVStore.
func (p *PebbleStore) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrKVNotFound
		}
		return nil, err
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	if cerr := closer.Close(); cerr != nil {
		return nil, cerr
	}
	return cp, nil
}

// Put implements KVStore.
func (p *PebbleStore) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.NoSync)
}

// Delete implements KVStore.
func (p *PebbleStore) Delete(key []byte) error {
	return p.db.Delete(key, pebble.NoSync)
}

// Has implements KVStore.
func (p *PebbleStore) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, closer.Close()
}

// Close implements KVStore.
func (p *PebbleStore) Close() error {
	return p.db.Close()
}

// NewBatch returns a write batch. PebbleStore does not share the in-memory
// WriteBatch type used by MemoryKVStore; it applies writes through its own
// pebble.Batch, exposed here via the shared KVBatch interface.
func (p *PebbleStore) NewBatch() KVBatch {
	return &PebbleBatch{batch: p.db.NewBatch()}
}

// NewKVIterator implements KVStore, returning an iterator over keys within
// [start, end-of-prefix-range).
func (p *PebbleStore) NewKVIterator(prefix, start []byte) KVIterator {
	lower := start
	if len(lower) == 0 {
		lower = prefix
	}
	upper := upperBound(prefix)
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return &pebbleIterator{err: err}
	}
	return &pebbleIterator{iter: it, started: false}
}

// upperBound computes the smallest key strictly greater than every key
// with the given prefix, i.e. prefix with its last byte incremented and
// all trailing 0xff bytes dropped. A nil/empty prefix has no upper bound.
func upperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] == 0xff {
			end = end[:i]
			continue
		}
		end[i]++
		return end
	}
	return nil // prefix was all 0xff bytes: unbounded above
}

// PebbleBatch buffers writes for atomic application to a PebbleStore.
type PebbleBatch struct {
	batch *pebble.Batch
}

// Put buffers a key-value write.
func (b *PebbleBatch) Put(key, value []byte) error {
	return b.batch.Set(key, value, nil)
}

// Delete buffers a key deletion.
func (b *PebbleBatch) Delete(key []byte) error {
	return b.batch.Delete(key, nil)
}

// Write applies the batch atomically.
func (b *PebbleBatch) Write() error {
	return b.batch.Commit(pebble.NoSync)
}

// pebbleIterator adapts a pebble.Iterator to the KVIterator interface.
type pebbleIterator struct {
	iter    *pebble.Iterator
	started bool
	err     error
}

// Next implements KVIterator.
func (it *pebbleIterator) Next() bool {
	if it.iter == nil {
		return false
	}
	if !it.started {
		it.started = true
		return it.iter.First()
	}
	return it.iter.Next()
}

// Key implements KVIterator.
func (it *pebbleIterator) Key() []byte {
	if it.iter == nil {
		return nil
	}
	return it.iter.Key()
}

// Value implements KVIterator.
func (it *pebbleIterator) Value() []byte {
	if it.iter == nil {
		return nil
	}
	return it.iter.Value()
}

// Release implements KVIterator.
func (it *pebbleIterator) Release() {
	if it.iter != nil {
		_ = it.iter.Close()
	}
}
