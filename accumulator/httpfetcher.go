package accumulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/casper-ecosystem/gssync/core/types"
)

// HTTPPeerFetcher implements PeerFetcher over plain HTTP, treating each
// PeerID as that peer's base URL (e.g. "http://10.0.0.4:9545"). It is the
// transport this module actually ships; a real deployment may swap in a
// libp2p or devp2p backed fetcher without touching the Accumulator.
type HTTPPeerFetcher struct {
	client *http.Client
}

// NewHTTPPeerFetcher creates a fetcher using the given HTTP client. A nil
// client falls back to http.DefaultClient.
func NewHTTPPeerFetcher(client *http.Client) *HTTPPeerFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPeerFetcher{client: client}
}

type wireNodeResponse struct {
	Whole   []byte             `json:"whole,omitempty"`
	Chunked *wireChunkedHeader `json:"chunked,omitempty"`
}

type wireChunkedHeader struct {
	TotalChunks uint64        `json:"total_chunks"`
	First       wireChunkData `json:"first"`
}

type wireChunkData struct {
	Index uint64   `json:"index"`
	Data  []byte   `json:"data"`
	Proof [][]byte `json:"proof"`
}

// RequestNode implements PeerFetcher, issuing GET {peer}/trie/node/{hash}.
func (f *HTTPPeerFetcher) RequestNode(ctx context.Context, peer PeerID, hash types.Hash) (NodeResponse, error) {
	url := fmt.Sprintf("%s/trie/node/%s", peer, hash.Hex())
	var wire wireNodeResponse
	if err := f.getJSON(ctx, url, &wire); err != nil {
		return NodeResponse{}, err
	}
	resp := NodeResponse{Whole: wire.Whole}
	if wire.Chunked != nil {
		resp.Chunked = &ChunkedHeader{
			TotalChunks: wire.Chunked.TotalChunks,
			First: ChunkData{
				Index: wire.Chunked.First.Index,
				Data:  wire.Chunked.First.Data,
				Proof: wire.Chunked.First.Proof,
			},
		}
	}
	return resp, nil
}

// RequestChunk implements PeerFetcher, issuing GET {peer}/trie/chunk/{hash}/{index}.
func (f *HTTPPeerFetcher) RequestChunk(ctx context.Context, peer PeerID, hash types.Hash, index uint64) (ChunkData, error) {
	url := fmt.Sprintf("%s/trie/chunk/%s/%d", peer, hash.Hex(), index)
	var wire wireChunkData
	if err := f.getJSON(ctx, url, &wire); err != nil {
		return ChunkData{}, err
	}
	return ChunkData{Index: wire.Index, Data: wire.Data, Proof: wire.Proof}, nil
}

func (f *HTTPPeerFetcher) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("accumulator: peer %s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
