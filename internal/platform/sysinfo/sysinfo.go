// Package sysinfo collects host resource usage for the status endpoint.
package sysinfo

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time view of host resource usage
type Snapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryUsedPercent float64   `json:"memory_used_percent"`
	MemoryTotalBytes  uint64    `json:"memory_total_bytes"`
	MemoryUsedBytes   uint64    `json:"memory_used_bytes"`
	DiskUsedPercent   float64   `json:"disk_used_percent"`
	Goroutines        int       `json:"goroutines"`
	GoVersion         string    `json:"go_version"`
}

// Collect gathers a snapshot. Individual probe failures leave the
// corresponding fields zero instead of failing the whole snapshot.
func Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		Timestamp:  time.Now().UTC(),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	if percent, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(percent) > 0 {
		snap.CPUPercent = percent[0]
	}

	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryUsedPercent = v.UsedPercent
		snap.MemoryTotalBytes = v.Total
		snap.MemoryUsedBytes = v.Used
	}

	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snap.DiskUsedPercent = usage.UsedPercent
	}

	return snap
}
