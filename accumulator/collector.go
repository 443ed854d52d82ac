package accumulator

import "github.com/casper-ecosystem/gssync/metrics"

// StatsCollector adapts an Accumulator's Stats into the metrics package's
// CustomCollector contract so they are scraped alongside every other
// subsystem's metrics through the shared PrometheusExporter.
type StatsCollector struct {
	acc *Accumulator
}

// NewStatsCollector creates a metrics.CustomCollector backed by acc.
func NewStatsCollector(acc *Accumulator) *StatsCollector {
	return &StatsCollector{acc: acc}
}

// Collect implements metrics.CustomCollector.
func (c *StatsCollector) Collect() []metrics.MetricLine {
	s := c.acc.Stats()
	return []metrics.MetricLine{
		{Name: "gssync_accumulator_fetches_issued_total", Value: float64(s.FetchesIssued)},
		{Name: "gssync_accumulator_fetches_coalesced_total", Value: float64(s.FetchesCoalesced)},
		{Name: "gssync_accumulator_chunked_assemblies_total", Value: float64(s.ChunkedAssemblies)},
		{Name: "gssync_accumulator_peers_blamed_total", Value: float64(s.PeersBlamed)},
		{Name: "gssync_accumulator_fetch_rate_1m", Value: s.FetchRate1m},
		{Name: "gssync_accumulator_fetch_rate_5m", Value: s.FetchRate5m},
		{Name: "gssync_accumulator_fetch_rate_15m", Value: s.FetchRate15m},
		{Name: "gssync_accumulator_fetch_rate_mean", Value: s.FetchRateMean},
		{Name: "gssync_accumulator_fetches_completed_total", Value: float64(s.FetchesCompleted)},
	}
}
