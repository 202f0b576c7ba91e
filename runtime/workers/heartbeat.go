package workers

import (
	"chat-relay/contract"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HeartbeatWorker periodically logs the gateway's own vitals: online
// connection count plus process CPU and memory from the OS.
type HeartbeatWorker struct {
	log            *slog.Logger
	metricInterval time.Duration
	registry       contract.IRegistry
}

func NewHeartbeatWorker(log *slog.Logger, metricInterval time.Duration, registry contract.IRegistry) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, metricInterval: metricInterval, registry: registry}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping heartbeat")
			return nil
		case <-ticker.C:
			cpuPercent, err := proc.CPUPercent()
			if err != nil {
				w.log.Debug("Error while retrieving process CPU", "err", err)
				continue
			}
			memInfo, err := proc.MemoryInfo()
			if err != nil {
				w.log.Debug("Error while retrieving process memory", "err", err)
				continue
			}
			w.log.Info("Heartbeat",
				"online_users", len(w.registry.SnapshotUserIDs()),
				"cpu_percent", cpuPercent,
				"rss_mb", memInfo.RSS/(1024*1024))
		}
	}
}
