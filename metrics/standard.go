package metrics

// Pre-defined metrics for the global state synchronizer. All metrics
// live in DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Trie accumulator metrics ----

	// TrieFetchesIssued counts network fetches the accumulator actually
	// issued (i.e. not served by request coalescing).
	TrieFetchesIssued = DefaultRegistry.Counter("accumulator.fetches_issued")
	// TrieFetchesCoalesced counts callers that attached to an in-flight
	// fetch instead of triggering a new one.
	TrieFetchesCoalesced = DefaultRegistry.Counter("accumulator.fetches_coalesced")
	// TrieChunkFetches counts individual chunk requests issued while
	// reassembling a chunked node.
	TrieChunkFetches = DefaultRegistry.Counter("accumulator.chunk_fetches")
	// PeersBlamed counts peers reported to the Announcer for misbehavior.
	PeersBlamed = DefaultRegistry.Counter("accumulator.peers_blamed")
	// TrieFetchLatency records whole-node fetch latency in milliseconds.
	TrieFetchLatency = DefaultRegistry.Histogram("accumulator.fetch_latency_ms")

	// ---- Global state synchronizer metrics ----

	// SyncActiveRequests tracks the number of SyncRequests currently open.
	SyncActiveRequests = DefaultRegistry.Gauge("gssync.active_requests")
	// SyncGlobalInFlight tracks the number of distinct hashes with an
	// outstanding network fetch at any instant.
	SyncGlobalInFlight = DefaultRegistry.Gauge("gssync.global_in_flight")
	// SyncRequestsCompleted counts SyncRequests that reached Completion(nil).
	SyncRequestsCompleted = DefaultRegistry.Counter("gssync.requests_completed")
	// SyncRequestsFailed counts SyncRequests that reached Completion(err).
	SyncRequestsFailed = DefaultRegistry.Counter("gssync.requests_failed")

	// ---- Store metrics ----

	// StoreNodesInserted counts trie nodes written to the store adapter.
	StoreNodesInserted = DefaultRegistry.Counter("trie_store.nodes_inserted")
	// StoreCacheHits counts node reads served from the in-memory cache.
	StoreCacheHits = DefaultRegistry.Counter("trie_store.cache_hits")
)
