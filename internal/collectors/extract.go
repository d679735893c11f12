package collectors

import (
	"strings"

	"netem-bench/internal/dataset"

	"github.com/docker/docker/api/types"
)

// Extract converts one raw docker stats snapshot into a normalized sample.
// The boolean is false when the snapshot is incomplete: no network section
// or no memory limit yet. Containers report incomplete stats during startup
// and shutdown races, so an incomplete snapshot is expected noise, never an
// error.
func Extract(raw *types.StatsJSON) (dataset.ContainerStatSample, bool) {
	if len(raw.Networks) == 0 {
		return dataset.ContainerStatSample{}, false
	}
	if raw.MemoryStats.Limit == 0 {
		return dataset.ContainerStatSample{}, false
	}

	var totalNet uint64
	for _, iface := range raw.Networks {
		totalNet += iface.RxBytes + iface.TxBytes
	}

	memUsage := float64(raw.MemoryStats.Usage) / float64(raw.MemoryStats.Limit)

	// The daemon self-delta encodes CPU usage: precpu_stats carries the
	// previous sample. On the first sample for a container the baseline is
	// zero-valued and the ratio defaults to 0. Ratios above 1.0 (multi-core
	// attribution) are preserved as observed.
	cpuUsage := 0.0
	if raw.PreCPUStats.CPUUsage.TotalUsage > 0 && raw.PreCPUStats.SystemUsage > 0 {
		cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
		sysDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
		if sysDelta > 0 {
			cpuUsage = cpuDelta / sysDelta
		}
	}

	return dataset.ContainerStatSample{
		Time:          float64(raw.Read.UnixNano()) / 1e9,
		Container:     strings.TrimPrefix(raw.Name, "/"),
		TotalNetBytes: totalNet,
		MemoryUsage:   memUsage,
		CPUUsage:      cpuUsage,
	}, true
}
