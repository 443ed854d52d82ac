package main

import (
	"sort"

	"github.com/casper-ecosystem/gssync/log"
)

// logReportBackend feeds MetricsReporter snapshots into the structured
// logger, for deployments that scrape logs rather than /metrics.
type logReportBackend struct {
	log *log.Logger
}

func newLogReportBackend(logger *log.Logger) *logReportBackend {
	return &logReportBackend{log: logger}
}

// Report implements metrics.ReportBackend.
func (b *logReportBackend) Report(values map[string]float64) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]any, 0, len(names)*2)
	for _, name := range names {
		args = append(args, name, values[name])
	}
	b.log.Info("periodic metrics snapshot", args...)
	return nil
}
