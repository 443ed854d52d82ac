package gssync

import "github.com/casper-ecosystem/gssync/metrics"

// StatsCollector adapts a Synchronizer's Stats into the metrics package's
// CustomCollector contract so they are scraped alongside every other
// subsystem's metrics through the shared PrometheusExporter.
type StatsCollector struct {
	sync *Synchronizer
}

// NewStatsCollector creates a metrics.CustomCollector backed by sync.
func NewStatsCollector(sync *Synchronizer) *StatsCollector {
	return &StatsCollector{sync: sync}
}

// Collect implements metrics.CustomCollector.
func (c *StatsCollector) Collect() []metrics.MetricLine {
	s := c.sync.Stats()
	return []metrics.MetricLine{
		{Name: "gssync_active_requests", Value: float64(s.ActiveRequests)},
		{Name: "gssync_global_in_flight", Value: float64(s.GlobalInFlight)},
		{Name: "gssync_fetches_dispatched_total", Value: float64(s.FetchesDispatched)},
		{Name: "gssync_requests_completed_total", Value: float64(s.Completed)},
		{Name: "gssync_requests_failed_total", Value: float64(s.Failed)},
	}
}
