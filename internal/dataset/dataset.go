// Package dataset holds the record types produced by the collectors and the
// post-collection trimming that isolates steady-state behavior. Field names
// follow the persisted JSON layout consumed by the rendering stage.
package dataset

import (
	"time"
)

// LatencyObservation is one synthetic client request. LatencySeconds equals
// the configured request timeout when the request timed out or failed; the
// value doubles as a sentinel so slow and failed requests stay visible in
// the latency series.
type LatencyObservation struct {
	ID             int64   `json:"id"`
	MessageLength  int     `json:"msg_length"`
	LatencySeconds float64 `json:"latency"`
	StartTime      float64 `json:"start"`
}

// ContainerStatSample is one normalized per-container counter snapshot.
// TotalNetBytes is a cumulative counter (rx+tx over all interfaces), not a
// rate. CPUUsage may exceed 1.0 transiently on multi-core hosts and is
// preserved as observed.
type ContainerStatSample struct {
	Time          float64 `json:"time"`
	Container     string  `json:"container"`
	TotalNetBytes uint64  `json:"total_net_traffic"`
	MemoryUsage   float64 `json:"memory_usage"`
	CPUUsage      float64 `json:"cpu_usage"`
}

// ExperimentResult is the complete dataset of one branch run, written
// verbatim to persistent storage.
type ExperimentResult struct {
	DockerStats []ContainerStatSample `json:"docker_stats"`
	ClientPerf  []LatencyObservation  `json:"client_perf"`
}

// TrimSpinUp drops every record collected during the spin-up window. The
// minimum timestamp across both sequences anchors the experiment start;
// only records strictly after anchor+spinup are retained.
func (r *ExperimentResult) TrimSpinUp(spinup time.Duration) {
	anchor, ok := r.minTimestamp()
	if !ok {
		return
	}
	cutoff := anchor + spinup.Seconds()

	stats := r.DockerStats[:0]
	for _, s := range r.DockerStats {
		if s.Time > cutoff {
			stats = append(stats, s)
		}
	}
	r.DockerStats = stats

	perf := r.ClientPerf[:0]
	for _, o := range r.ClientPerf {
		if o.StartTime > cutoff {
			perf = append(perf, o)
		}
	}
	r.ClientPerf = perf
}

func (r *ExperimentResult) minTimestamp() (float64, bool) {
	found := false
	var min float64
	for _, s := range r.DockerStats {
		if !found || s.Time < min {
			min = s.Time
			found = true
		}
	}
	for _, o := range r.ClientPerf {
		if !found || o.StartTime < min {
			min = o.StartTime
			found = true
		}
	}
	return min, found
}
