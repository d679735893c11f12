package collectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
)

func namedSnapshot(name string) *types.StatsJSON {
	s := &types.StatsJSON{}
	s.Name = name
	return s
}

func TestRoundRobinFairness(t *testing.T) {
	mkSource := func(names ...string) <-chan *types.StatsJSON {
		ch := make(chan *types.StatsJSON, len(names))
		for _, n := range names {
			ch <- namedSnapshot(n)
		}
		close(ch)
		return ch
	}

	sources := []<-chan *types.StatsJSON{
		mkSource("A1", "A2"),
		mkSource("B1"),
		mkSource("C1", "C2", "C3"),
	}

	var got []string
	roundRobin(sources, make(chan struct{}), func(raw *types.StatsJSON) {
		got = append(got, raw.Name)
	})

	want := []string{"A1", "B1", "C1", "A2", "C2", "C3"}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected interleaving %v, got %v", want, got)
		}
	}
}

func TestRoundRobinStop(t *testing.T) {
	// one source that never produces: stop must unblock the multiplexer
	blocked := make(chan *types.StatsJSON)
	stop := make(chan struct{})
	close(stop)

	done := make(chan struct{})
	go func() {
		roundRobin([]<-chan *types.StatsJSON{blocked}, stop, func(*types.StatsJSON) {
			t.Error("no item should be emitted")
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("round robin did not observe stop signal")
	}
}

// fakeStatsSource serves canned stats streams per container ID.
type fakeStatsSource struct {
	streams map[string][]*types.StatsJSON
}

func (f *fakeStatsSource) ListContainers(ctx context.Context) ([]ContainerRef, error) {
	return nil, errors.New("no containers")
}

func (f *fakeStatsSource) ContainerStats(ctx context.Context, containerID string, stream bool) (io.ReadCloser, error) {
	snapshots, ok := f.streams[containerID]
	if !ok {
		return nil, fmt.Errorf("unknown container %s", containerID)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range snapshots {
		if err := enc.Encode(s); err != nil {
			return nil, err
		}
	}
	return io.NopCloser(&buf), nil
}

func completeSnapshot(name string, i int) *types.StatsJSON {
	s := &types.StatsJSON{}
	s.Name = "/" + name
	s.Read = time.Unix(int64(1700000000+i), 0)
	s.Networks = map[string]types.NetworkStats{
		"eth0": {RxBytes: uint64(100 * i), TxBytes: uint64(10 * i)},
	}
	s.MemoryStats.Usage = 128
	s.MemoryStats.Limit = 1024
	return s
}

func snapshotSeries(name string, n int) []*types.StatsJSON {
	series := make([]*types.StatsJSON, 0, n)
	for i := 1; i <= n; i++ {
		series = append(series, completeSnapshot(name, i))
	}
	return series
}

func collectorForStreams(streams map[string][]*types.StatsJSON, refs []ContainerRef) *DockerStatsCollector {
	c := NewDockerStatsCollector(&fakeStatsSource{streams: streams})
	c.SetContainers(refs)
	return c
}

func TestDockerStatsCollectorEqualRepresentation(t *testing.T) {
	refs := []ContainerRef{{ID: "c1", Name: "alpha"}, {ID: "c2", Name: "beta"}}
	c := collectorForStreams(map[string][]*types.StatsJSON{
		"c1": snapshotSeries("alpha", 7),
		"c2": snapshotSeries("beta", 7),
	}, refs)

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// both canned streams drain quickly; give the worker time to finish
	time.Sleep(200 * time.Millisecond)

	data, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(data)%2 != 0 {
		t.Fatalf("dataset length %d not divisible by container count", len(data))
	}
	counts := map[string]int{}
	for _, s := range data {
		counts[s.Container]++
	}
	if counts["alpha"] != counts["beta"] {
		t.Errorf("expected equal representation, got %v", counts)
	}
}

func TestDockerStatsCollectorTruncatesPartialRound(t *testing.T) {
	refs := []ContainerRef{{ID: "c1", Name: "alpha"}, {ID: "c2", Name: "beta"}}
	c := collectorForStreams(map[string][]*types.StatsJSON{
		"c1": snapshotSeries("alpha", 7),
		"c2": snapshotSeries("beta", 6),
	}, refs)

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	data, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(data) != 12 {
		t.Errorf("expected 13 collected samples truncated to 12, got %d", len(data))
	}
}

func TestDockerStatsCollectorDropsIncomplete(t *testing.T) {
	incomplete := &types.StatsJSON{}
	incomplete.Name = "/alpha"
	incomplete.Read = time.Unix(1700000000, 0)
	// no network section

	refs := []ContainerRef{{ID: "c1", Name: "alpha"}}
	c := collectorForStreams(map[string][]*types.StatsJSON{
		"c1": {incomplete, completeSnapshot("alpha", 1), incomplete, completeSnapshot("alpha", 2)},
	}, refs)

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	data, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(data) != 2 {
		t.Errorf("expected incomplete snapshots silently dropped, got %d samples", len(data))
	}
}

func TestDockerStatsCollectorStopMisuse(t *testing.T) {
	c := NewDockerStatsCollector(&fakeStatsSource{})
	if _, err := c.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted before Start, got %v", err)
	}

	refs := []ContainerRef{{ID: "c1", Name: "alpha"}}
	c = collectorForStreams(map[string][]*types.StatsJSON{
		"c1": snapshotSeries("alpha", 3),
	}, refs)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	first, err := c.Stop()
	if err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	firstLen := len(first)

	if _, err := c.Stop(); !errors.Is(err, ErrAlreadyStopped) {
		t.Errorf("expected ErrAlreadyStopped on double stop, got %v", err)
	}
	if len(first) != firstLen {
		t.Error("rejected Stop must not mutate the dataset")
	}
}

func TestDockerStatsCollectorDatasetStableAfterStop(t *testing.T) {
	refs := []ContainerRef{{ID: "c1", Name: "alpha"}}
	c := collectorForStreams(map[string][]*types.StatsJSON{
		"c1": snapshotSeries("alpha", 5),
	}, refs)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	data, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	n := len(data)
	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		if len(data) != n {
			t.Fatalf("dataset length changed after Stop: %d -> %d", n, len(data))
		}
	}
}
