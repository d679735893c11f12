package collectors

import (
	"math"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
)

func statsSnapshot() *types.StatsJSON {
	s := &types.StatsJSON{}
	s.Name = "/jwt-client"
	s.Read = time.Date(2024, 5, 10, 12, 0, 0, 500000000, time.UTC)
	s.Networks = map[string]types.NetworkStats{
		"eth0": {RxBytes: 1000, TxBytes: 2000},
		"eth1": {RxBytes: 30, TxBytes: 70},
	}
	s.MemoryStats.Usage = 256
	s.MemoryStats.Limit = 1024
	s.PreCPUStats.CPUUsage.TotalUsage = 100
	s.PreCPUStats.SystemUsage = 1000
	s.CPUStats.CPUUsage.TotalUsage = 150
	s.CPUStats.SystemUsage = 1200
	return s
}

func TestExtract(t *testing.T) {
	sample, ok := Extract(statsSnapshot())
	if !ok {
		t.Fatal("expected complete snapshot to extract")
	}

	if sample.Container != "jwt-client" {
		t.Errorf("expected leading slash stripped, got %q", sample.Container)
	}
	if sample.TotalNetBytes != 3100 {
		t.Errorf("expected rx+tx summed over all interfaces = 3100, got %d", sample.TotalNetBytes)
	}
	if sample.MemoryUsage != 0.25 {
		t.Errorf("expected memory ratio 0.25, got %v", sample.MemoryUsage)
	}
	// (150-100)/(1200-1000) = 0.25
	if math.Abs(sample.CPUUsage-0.25) > 1e-9 {
		t.Errorf("expected cpu ratio 0.25, got %v", sample.CPUUsage)
	}
	wantTime := float64(time.Date(2024, 5, 10, 12, 0, 0, 500000000, time.UTC).UnixNano()) / 1e9
	if math.Abs(sample.Time-wantTime) > 1e-6 {
		t.Errorf("expected epoch time %v, got %v", wantTime, sample.Time)
	}
}

func TestExtractMissingNetworkIsIncomplete(t *testing.T) {
	s := statsSnapshot()
	s.Networks = nil

	if _, ok := Extract(s); ok {
		t.Error("snapshot without network section must be incomplete")
	}
}

func TestExtractZeroMemoryLimitIsIncomplete(t *testing.T) {
	s := statsSnapshot()
	s.MemoryStats.Limit = 0

	if _, ok := Extract(s); ok {
		t.Error("snapshot with zero memory limit must be incomplete")
	}
}

func TestExtractCPUDefaultsWithoutBaseline(t *testing.T) {
	// the first sample for a container carries a zero-valued precpu baseline
	s := statsSnapshot()
	s.PreCPUStats.CPUUsage.TotalUsage = 0
	s.PreCPUStats.SystemUsage = 0

	sample, ok := Extract(s)
	if !ok {
		t.Fatal("expected complete snapshot to extract")
	}
	if sample.CPUUsage != 0 {
		t.Errorf("expected cpu ratio to default to exactly 0, got %v", sample.CPUUsage)
	}
}

func TestExtractPreservesRatiosAboveOne(t *testing.T) {
	s := statsSnapshot()
	// multi-core attribution: container delta exceeds system delta
	s.CPUStats.CPUUsage.TotalUsage = 600
	s.CPUStats.SystemUsage = 1200

	sample, ok := Extract(s)
	if !ok {
		t.Fatal("expected complete snapshot to extract")
	}
	if sample.CPUUsage <= 1.0 {
		t.Errorf("expected unclamped ratio above 1.0, got %v", sample.CPUUsage)
	}
}

func TestExtractNetworkSumOrderIndependent(t *testing.T) {
	a := statsSnapshot()
	b := statsSnapshot()
	b.Networks = map[string]types.NetworkStats{
		"eth1": {RxBytes: 30, TxBytes: 70},
		"eth0": {RxBytes: 1000, TxBytes: 2000},
	}

	sa, _ := Extract(a)
	sb, _ := Extract(b)
	if sa.TotalNetBytes != sb.TotalNetBytes {
		t.Errorf("network total must be order-independent: %d vs %d", sa.TotalNetBytes, sb.TotalNetBytes)
	}
}
