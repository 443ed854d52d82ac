package gssync

import (
	"testing"

	"github.com/casper-ecosystem/gssync/accumulator"
)

func TestStatsCollectorReportsCurrentCounters(t *testing.T) {
	sync := New(accumulator.New(accumulator.NewFakePeerFetcher(), accumulator.FakeChunkVerifier{}, nil, 0), NewFakeStore(), 0)
	sync.stats = Stats{
		ActiveRequests:    3,
		GlobalInFlight:    2,
		FetchesDispatched: 10,
		Completed:         7,
		Failed:            1,
	}

	lines := NewStatsCollector(sync).Collect()

	byName := make(map[string]float64, len(lines))
	for _, l := range lines {
		byName[l.Name] = l.Value
	}

	want := map[string]float64{
		"gssync_active_requests":          3,
		"gssync_global_in_flight":         2,
		"gssync_fetches_dispatched_total": 10,
		"gssync_requests_completed_total": 7,
		"gssync_requests_failed_total":    1,
	}
	for name, v := range want {
		if byName[name] != v {
			t.Errorf("%s = %v, want %v", name, byName[name], v)
		}
	}
}
