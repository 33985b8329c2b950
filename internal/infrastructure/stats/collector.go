package stats

import (
	"context"
	"time"

	"github.com/processlens/backend/pkg/api"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Collector samples host statistics for the health report.
type Collector struct {
	sample time.Duration
}

func NewCollector(sample time.Duration) *Collector {
	if sample <= 0 {
		sample = 200 * time.Millisecond
	}
	return &Collector{sample: sample}
}

// Collect never fails outright; any reading that errors leaves its fields zero.
func (c *Collector) Collect(ctx context.Context) (*api.SystemStats, error) {
	stats := &api.SystemStats{}

	cpuPercent, err := cpu.PercentWithContext(ctx, c.sample, false)
	if err == nil && len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		stats.RAMUsage = memInfo.UsedPercent
		stats.RAMTotal = memInfo.Total
		stats.RAMUsed = memInfo.Used
	}

	hostInfo, err := host.InfoWithContext(ctx)
	if err == nil {
		stats.Uptime = hostInfo.Uptime
		stats.Hostname = hostInfo.Hostname
		stats.Platform = hostInfo.Platform
	}

	return stats, nil
}
