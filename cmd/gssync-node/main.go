// Command gssync-node runs the global state synchronizer as a standalone
// service: it accepts SyncRequests over its in-process API, fetches and
// assembles trie nodes from peers, persists them to a local store, and
// exposes Prometheus metrics for the in-flight and completed work.
//
// Usage:
//
//	gssync-node [flags]
//
// Flags:
//
//	--max-parallel-trie-fetches  Global concurrent-fetch cap (default: 16)
//	--max-concurrent-chunks      Per-node chunk-fetch concurrency (default: 8)
//	--metrics-addr               Address to serve Prometheus metrics on (default: :6062)
//	--db                         Store backend: memory or pebble (default: memory)
//	--db-path                    Pebble data directory (default: ./data)
//	--cache-size-mb              In-memory trie node cache size in MiB (default: 32)
//	--verbosity                  Log level 0-5 (default: 3)
//	--log-format                 Log rendering: json, text, or color (default: json)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/casper-ecosystem/gssync/accumulator"
	"github.com/casper-ecosystem/gssync/core/rawdb"
	"github.com/casper-ecosystem/gssync/gssync"
	"github.com/casper-ecosystem/gssync/log"
	"github.com/casper-ecosystem/gssync/metrics"
	"github.com/casper-ecosystem/gssync/trie"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := &cli.App{
		Name:    "gssync-node",
		Usage:   "run the global state synchronizer service",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max-parallel-trie-fetches", Value: gssync.DefaultMaxParallelTrieFetches, Usage: "global concurrent trie-node fetch cap"},
			&cli.Int64Flag{Name: "max-concurrent-chunks", Value: 8, Usage: "per-node chunk-fetch concurrency"},
			&cli.StringFlag{Name: "metrics-addr", Value: ":6062", Usage: "address to serve Prometheus metrics on"},
			&cli.StringFlag{Name: "db", Value: "memory", Usage: "store backend: memory or pebble"},
			&cli.StringFlag{Name: "db-path", Value: "./data", Usage: "pebble data directory"},
			&cli.IntFlag{Name: "cache-size-mb", Value: 32, Usage: "in-memory trie node cache size in MiB"},
			&cli.IntFlag{Name: "verbosity", Value: 3, Usage: "log level 0-5 (0=silent, 5=trace)"},
			&cli.StringFlag{Name: "log-format", Value: "json", Usage: "log rendering: json, text, or color"},
		},
		Before: func(c *cli.Context) error {
			return log.ParseLogFormat(c.String("log-format"))
		},
		Action: runNode,
	}

	if err := app.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// verbosityToLevel maps the 0-5 CLI verbosity scale to slog levels.
func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError + 4 // effectively silent
	case v == 1:
		return slog.LevelError
	case v == 2:
		return slog.LevelWarn
	case v == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func runNode(c *cli.Context) error {
	logger := log.NewWithFormat(verbosityToLevel(c.Int("verbosity")), c.String("log-format")).Module("gssync-node")
	log.SetDefault(logger)

	logger.Info("gssync-node starting",
		"version", version,
		"max_parallel_trie_fetches", c.Int("max-parallel-trie-fetches"),
		"max_concurrent_chunks", c.Int64("max-concurrent-chunks"),
		"db", c.String("db"),
		"metrics_addr", c.String("metrics-addr"),
	)

	disk, closeDisk, err := openStore(c.String("db"), c.String("db-path"), logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeDisk()

	store := trie.NewSyncStore(disk, c.Int("cache-size-mb")*1024*1024)

	acc := accumulator.New(
		accumulator.NewHTTPPeerFetcher(nil),
		accumulator.MerkleChunkVerifier{},
		accumulator.NewLogAnnouncer(logger.Module("accumulator")),
		c.Int64("max-concurrent-chunks"),
	)

	sync := gssync.New(acc, store, c.Int("max-parallel-trie-fetches"))

	ctx, cancel := context.WithCancel(context.Background())

	registry := metrics.NewRegistry()
	exporter := metrics.NewPrometheusExporter(registry, metrics.DefaultPrometheusConfig())
	exporter.RegisterCollector("gssync", gssync.NewStatsCollector(sync))
	exporter.RegisterCollector("accumulator", accumulator.NewStatsCollector(acc))

	sysMetrics := metrics.NewSystemMetrics()
	sysMetrics.SetSyncProgressFunc(func() float64 {
		ss := sync.Stats()
		total := ss.Completed + ss.Failed + uint64(ss.ActiveRequests)
		if total == 0 {
			return 0
		}
		return float64(ss.Completed+ss.Failed) / float64(total)
	})
	sysMetrics.SetDiskUsageFunc(func(path string) metrics.DiskStats {
		return diskUsage(path)
	})
	cpuTracker := metrics.NewCPUTracker()
	go cpuPollLoop(ctx, cpuTracker)

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	mux.HandleFunc("/debug/registry", func(w http.ResponseWriter, r *http.Request) {
		data, err := registry.ExportJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
	mux.HandleFunc("/debug/status", func(w http.ResponseWriter, r *http.Request) {
		data, err := sysMetrics.ExportJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	history := metrics.NewMetricsCollector(metrics.CollectorConfig{
		MaxMetrics:       20000,
		EnableHistograms: true,
	})
	mux.HandleFunc("/debug/history", func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Latest             map[string]float64  `json:"latest"`
			StatsLoopP50Ms      float64             `json:"stats_loop_p50_ms"`
			StatsLoopP99Ms      float64             `json:"stats_loop_p99_ms"`
			RecordedSamples     int                 `json:"recorded_samples"`
			LastActiveRequests  *metrics.MetricEntry `json:"last_active_requests,omitempty"`
		}{
			Latest:             history.Summary(),
			StatsLoopP50Ms:     history.HistogramPercentile("gssync.stats_collection_duration_ms", 50),
			StatsLoopP99Ms:     history.HistogramPercentile("gssync.stats_collection_duration_ms", 99),
			RecordedSamples:    history.MetricCount(),
			LastActiveRequests: history.Get("gssync.active_requests"),
		}
		data, err := json.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	metricsServer := &http.Server{Addr: c.String("metrics-addr"), Handler: mux}
	go func() {
		logger.Info("serving metrics", "addr", c.String("metrics-addr"))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	reporter := metrics.NewMetricsReporter(30 * time.Second)
	reporter.RegisterBackend("log", newLogReportBackend(logger.Module("metrics")))
	reporter.Start()
	defer reporter.Stop()

	runDone := make(chan struct{})
	go func() {
		sync.Run(ctx)
		close(runDone)
	}()
	go recordStatsLoop(ctx, reporter, history, sync, acc, cpuTracker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	cancel()
	<-runDone

	exporter.UnregisterCollector("gssync")
	exporter.UnregisterCollector("accumulator")
	reporter.UnregisterBackend("log")

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// recordStatsLoop feeds the synchronizer and accumulator's stats snapshots
// into reporter every few seconds so its periodic backend reports (every
// reporter.interval) reflect current activity rather than a stale zero.
func recordStatsLoop(ctx context.Context, reporter *metrics.MetricsReporter, history *metrics.MetricsCollector, sync *gssync.Synchronizer, acc *accumulator.Accumulator, cpuTracker *metrics.CPUTracker) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	var ticks int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickStart := time.Now()
			ticks++

			// Every 6 hours, drain the collector's raw history rather than
			// letting it grow unbounded for the life of the process; the
			// /debug/history percentiles only need a recent window.
			if ticks%4320 == 0 {
				flushed := history.Flush()
				log.Default().Module("metrics").Info("flushed metrics history", "entries", len(flushed))
			}

			ss := sync.Stats()
			reporter.RecordMetric("gssync.active_requests", float64(ss.ActiveRequests))
			reporter.RecordMetric("gssync.global_in_flight", float64(ss.GlobalInFlight))
			reporter.RecordMetric("gssync.requests_completed", float64(ss.Completed))
			reporter.RecordMetric("gssync.requests_failed", float64(ss.Failed))

			as := acc.Stats()
			reporter.RecordMetric("accumulator.fetches_issued", float64(as.FetchesIssued))
			reporter.RecordMetric("accumulator.fetches_coalesced", float64(as.FetchesCoalesced))
			reporter.RecordMetric("accumulator.peers_blamed", float64(as.PeersBlamed))
			reporter.RecordMetric("accumulator.fetch_rate_1m", as.FetchRate1m)
			reporter.RecordMetric("accumulator.fetch_rate_5m", as.FetchRate5m)
			reporter.RecordMetric("accumulator.fetch_rate_15m", as.FetchRate15m)
			reporter.RecordMetric("accumulator.fetch_rate_mean", as.FetchRateMean)
			reporter.RecordMetric("process.cpu_usage_pct", cpuTracker.Usage())
			reporter.RecordMetric("process.cpu_io_wait_pct", cpuTracker.IOWaitPct())

			history.Record("accumulator.fetch_rate_1m", as.FetchRate1m, nil)
			history.Record("accumulator.peers_blamed", float64(as.PeersBlamed), nil)
			history.Record("gssync.active_requests", float64(ss.ActiveRequests), nil)

			// Timed separately from the ticker period itself: a growing gap
			// here means Stats() is getting slower, not that the loop is
			// falling behind schedule. Recorded both as a reporter gauge (for
			// the periodic log report) and as a collector histogram (for the
			// /debug/history percentiles), since the reporter only tracks the
			// latest value per name.
			elapsed := time.Since(tickStart)
			reporter.RecordTimer("gssync.stats_collection_duration_ms", elapsed)
			history.RecordHistogram("gssync.stats_collection_duration_ms", float64(elapsed.Milliseconds()))
		}
	}
}

// openStore opens the configured durable KVStore backend. The returned
// close function must be called once the store is no longer needed.
func openStore(backend, path string, logger *log.Logger) (rawdb.KVStore, func() error, error) {
	switch backend {
	case "memory":
		store := rawdb.NewMemoryKVStore()
		return store, store.Close, nil
	case "pebble":
		store, err := rawdb.OpenPebbleStore(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened pebble store", "path", path)
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown db backend %q (want memory or pebble)", backend)
	}
}
