// Package accumulator implements the Trie Accumulator: given a node hash
// and a peer set, it produces the fully verified encoded trie node, hiding
// from callers whether the node arrived as a single response or was
// assembled from multiple proof-carrying chunks served by different peers.
//
// Concurrent callers asking for the same hash are coalesced into a single
// in-flight assembly (golang.org/x/sync/singleflight); once a node is
// chunked, remaining chunks are fetched from the peer set in parallel
// (golang.org/x/sync/errgroup) bounded by a per-assembly concurrency cap
// (golang.org/x/sync/semaphore).
package accumulator

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/casper-ecosystem/gssync/core/types"
	"github.com/casper-ecosystem/gssync/crypto"
	"github.com/casper-ecosystem/gssync/log"
	"github.com/casper-ecosystem/gssync/metrics"
)

// DefaultMaxConcurrentChunks bounds how many chunk requests a single
// assembly will have outstanding at once.
const DefaultMaxConcurrentChunks = 8

// Accumulator fetches and assembles trie nodes from peers.
type Accumulator struct {
	fetcher   PeerFetcher
	verifier  ChunkVerifier
	announcer Announcer
	maxChunks int64
	inflight  singleflight.Group
	log       *log.Logger
	meter     *metrics.Meter

	mu    sync.Mutex
	stats Stats
}

// Stats is a snapshot of accumulator activity, exposed for metrics.
type Stats struct {
	FetchesIssued     uint64
	FetchesCoalesced  uint64
	ChunkedAssemblies uint64
	PeersBlamed       uint64
	// FetchRate1m, FetchRate5m, and FetchRate15m are the 1-, 5-, and
	// 15-minute exponentially weighted moving averages of completed fetches
	// per second (see metrics.Meter).
	FetchRate1m  float64
	FetchRate5m  float64
	FetchRate15m float64
	// FetchRateMean is the mean completed-fetch rate since the accumulator
	// was created.
	FetchRateMean float64
	// FetchesCompleted is the total number of fetches that finished without
	// being coalesced into another in-flight assembly.
	FetchesCompleted int64
}

// New creates an Accumulator. maxConcurrentChunks bounds per-assembly
// chunk fan-out; a value <= 0 uses DefaultMaxConcurrentChunks.
func New(fetcher PeerFetcher, verifier ChunkVerifier, announcer Announcer, maxConcurrentChunks int64) *Accumulator {
	if maxConcurrentChunks <= 0 {
		maxConcurrentChunks = DefaultMaxConcurrentChunks
	}
	if announcer == nil {
		announcer = NopAnnouncer{}
	}
	return &Accumulator{
		fetcher:   fetcher,
		verifier:  verifier,
		announcer: announcer,
		maxChunks: maxConcurrentChunks,
		log:       log.Default().Module("accumulator"),
		meter:     metrics.NewMeter(),
	}
}

// Stats returns a snapshot of accumulator counters.
func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	s := a.stats
	a.mu.Unlock()
	s.FetchRate1m = a.meter.Rate1()
	s.FetchRate5m = a.meter.Rate5()
	s.FetchRate15m = a.meter.Rate15()
	s.FetchRateMean = a.meter.RateMean()
	s.FetchesCompleted = a.meter.Count()
	return s
}

// Fetch retrieves the fully verified trie node with the given hash from
// the supplied peer set. Concurrent calls for the same hash share a
// single underlying assembly and receive the same result.
func (a *Accumulator) Fetch(ctx context.Context, hash types.Hash, peers []PeerID) ([]byte, error) {
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}

	key := string(hash[:])
	timer := metrics.NewTimer(metrics.TrieFetchLatency)
	v, err, shared := a.inflight.Do(key, func() (interface{}, error) {
		a.mu.Lock()
		a.stats.FetchesIssued++
		a.mu.Unlock()
		metrics.TrieFetchesIssued.Inc()
		return a.fetchOnce(ctx, hash, peers)
	})
	if shared {
		a.mu.Lock()
		a.stats.FetchesCoalesced++
		a.mu.Unlock()
		metrics.TrieFetchesCoalesced.Inc()
	} else {
		timer.Stop()
		a.meter.Mark(1)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// fetchOnce runs the whole-node-then-chunked fetch algorithm against a
// single peer set, with no request coalescing (that is the caller's job
// via singleflight).
func (a *Accumulator) fetchOnce(ctx context.Context, hash types.Hash, peers []PeerID) ([]byte, error) {
	tried := make(map[PeerID]bool, len(peers))
	attempts := 0

	var assembly *chunkAssembly

	for {
		peer, ok := nextUntried(peers, tried)
		if !ok {
			if assembly != nil && assembly.complete() {
				return assembly.bytes(), nil
			}
			return nil, &AllPeersFailedError{Attempts: attempts}
		}
		tried[peer] = true
		attempts++

		select {
		case <-ctx.Done():
			return nil, &TimeoutError{}
		default:
		}

		resp, err := a.fetcher.RequestNode(ctx, peer, hash)
		if err != nil {
			a.log.Debug("peer fetch failed", "peer", peer, "hash", hash.Hex(), "err", err)
			continue
		}

		if resp.Whole != nil {
			if crypto.Keccak256Hash(resp.Whole) != hash {
				a.announceBlame(peer, errWholeNodeDigestMismatch)
				continue
			}
			return resp.Whole, nil
		}

		if resp.Chunked == nil {
			continue
		}

		if assembly == nil {
			assembly = newChunkAssembly(hash, resp.Chunked.TotalChunks)
			a.mu.Lock()
			a.stats.ChunkedAssemblies++
			a.mu.Unlock()
		} else if assembly.total != resp.Chunked.TotalChunks {
			a.announceBlame(peer, &InconsistentError{Peer: peer})
			continue
		}

		if !a.verifyAndStore(assembly, peer, resp.Chunked.First) {
			continue
		}

		if err := a.fetchRemainingChunks(ctx, assembly, peer, peers, tried); err != nil {
			return nil, err
		}

		if assembly.complete() {
			data := assembly.bytes()
			if crypto.Keccak256Hash(data) != hash {
				return nil, &AllPeersFailedError{Attempts: attempts}
			}
			return data, nil
		}
	}
}

// fetchRemainingChunks requests every chunk index not yet present in
// assembly, fanning out across the peer set with bounded concurrency.
func (a *Accumulator) fetchRemainingChunks(ctx context.Context, assembly *chunkAssembly, firstPeer PeerID, peers []PeerID, tried map[PeerID]bool) error {
	missing := assembly.missingIndexes()
	if len(missing) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(a.maxChunks)
	g, gctx := errgroup.WithContext(ctx)
	for _, idx := range missing {
		idx := idx
		if err := sem.Acquire(ctx, 1); err != nil {
			return &TimeoutError{}
		}
		g.Go(func() error {
			defer sem.Release(1)
			return a.fetchOneChunk(gctx, assembly, idx, peers)
		})
	}
	return g.Wait()
}

// fetchOneChunk tries peers round-robin (preferring untried-for-this-chunk
// peers) until chunk idx is verified and stored or every peer has failed it.
func (a *Accumulator) fetchOneChunk(ctx context.Context, assembly *chunkAssembly, idx uint64, peers []PeerID) error {
	triedForChunk := make(map[PeerID]bool, len(peers))
	for {
		if assembly.has(idx) {
			return nil
		}
		peer, ok := nextUntried(peers, triedForChunk)
		if !ok {
			return nil // leave unresolved; caller's complete() check will catch it
		}
		triedForChunk[peer] = true

		metrics.TrieChunkFetches.Inc()
		chunk, err := a.fetcher.RequestChunk(ctx, peer, assembly.hash, idx)
		if err != nil {
			continue
		}
		chunk.Index = idx
		a.verifyAndStore(assembly, peer, chunk)
	}
}

// verifyAndStore verifies chunk's proof and, on success, records it in the
// assembly. Returns whether the chunk was accepted.
func (a *Accumulator) verifyAndStore(assembly *chunkAssembly, peer PeerID, chunk ChunkData) bool {
	if assembly.has(chunk.Index) {
		return true // duplicate delivery is idempotent
	}
	if !a.verifier.VerifyChunk(assembly.hash, assembly.total, chunk) {
		a.announceBlame(peer, &ChunkVerificationFailedError{Peer: peer})
		return false
	}
	assembly.put(chunk.Index, chunk.Data)
	return true
}

// announceBlame records a peer misbehavior and forwards it to the
// configured Announcer. blame's Error() text becomes the announcer's
// reason string, so ChunkVerificationFailedError and InconsistentError
// carry their own wording rather than duplicating it as a literal here.
func (a *Accumulator) announceBlame(peer PeerID, blame error) {
	a.mu.Lock()
	a.stats.PeersBlamed++
	a.mu.Unlock()
	metrics.PeersBlamed.Inc()
	a.announcer.AnnounceMisbehavingPeer(peer, blame.Error())
}

// nextUntried returns the first peer in peers not present in tried,
// preserving peers' order (callers may pre-shuffle for fairness).
func nextUntried(peers []PeerID, tried map[PeerID]bool) (PeerID, bool) {
	for _, p := range peers {
		if !tried[p] {
			return p, true
		}
	}
	return "", false
}
