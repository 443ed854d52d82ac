package accumulator

import (
	"sync"

	"github.com/casper-ecosystem/gssync/core/types"
)

// chunkAssembly accumulates verified chunks for a single target hash until
// every declared chunk index has arrived.
type chunkAssembly struct {
	hash  types.Hash
	total uint64

	mu     sync.Mutex
	chunks map[uint64][]byte
}

func newChunkAssembly(hash types.Hash, total uint64) *chunkAssembly {
	return &chunkAssembly{
		hash:   hash,
		total:  total,
		chunks: make(map[uint64][]byte, total),
	}
}

func (c *chunkAssembly) has(idx uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.chunks[idx]
	return ok
}

func (c *chunkAssembly) put(idx uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.chunks[idx]; ok {
		return // duplicate chunk delivery is idempotent
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.chunks[idx] = cp
}

func (c *chunkAssembly) complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.chunks)) == c.total
}

// missingIndexes returns every chunk index not yet present, in order.
func (c *chunkAssembly) missingIndexes() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var missing []uint64
	for i := uint64(0); i < c.total; i++ {
		if _, ok := c.chunks[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// bytes concatenates all chunks in index order. Callers must only invoke
// this once complete() is true.
func (c *chunkAssembly) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for i := uint64(0); i < c.total; i++ {
		out = append(out, c.chunks[i]...)
	}
	return out
}
