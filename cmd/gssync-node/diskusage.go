package main

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/casper-ecosystem/gssync/metrics"
)

// diskUsage reports the capacity of the filesystem backing path, used as
// the SystemMetrics DiskUsageFunc for the store's data directory.
func diskUsage(path string) metrics.DiskStats {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return metrics.DiskStats{}
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return metrics.DiskStats{
		Total: total,
		Free:  free,
		Used:  total - free,
	}
}

// cpuPollLoop samples process CPU usage periodically so CPUTracker.Usage
// reflects recent activity rather than a single stale sample.
func cpuPollLoop(ctx context.Context, tracker *metrics.CPUTracker) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tracker.RecordCPU()
		}
	}
}
