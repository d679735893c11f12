package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"netem-bench/internal/dataset"
	"netem-bench/internal/logging"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// oneShotInterval paces the pre-SetContainers fallback so listing retries
// do not hammer the API when nothing is running yet.
const oneShotInterval = 200 * time.Millisecond

// ContainerRef identifies one container under observation.
type ContainerRef struct {
	ID   string
	Name string
}

// StatsSource is the container-runtime capability the metrics collector
// needs: listing running containers and opening per-container stats
// snapshots or streams.
type StatsSource interface {
	ListContainers(ctx context.Context) ([]ContainerRef, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (io.ReadCloser, error)
}

// DockerStatsSource backs StatsSource with the Docker API client.
type DockerStatsSource struct {
	cli *client.Client
}

func NewDockerStatsSource(cli *client.Client) *DockerStatsSource {
	return &DockerStatsSource{cli: cli}
}

func (s *DockerStatsSource) ListContainers(ctx context.Context) ([]ContainerRef, error) {
	list, err := s.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, err
	}
	refs := make([]ContainerRef, 0, len(list))
	for _, c := range list {
		name := c.ID
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		refs = append(refs, ContainerRef{ID: c.ID, Name: name})
	}
	return refs, nil
}

func (s *DockerStatsSource) ContainerStats(ctx context.Context, containerID string, stream bool) (io.ReadCloser, error) {
	resp, err := s.cli.ContainerStats(ctx, containerID, stream)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DockerStatsCollector produces a time-ordered sequence of container metric
// samples across a fixed set of containers. Until SetContainers is called it
// falls back to one-shot sampling of whatever the runtime lists, so traffic
// during system startup stays visible; once the set is known it multiplexes
// the per-container live streams round-robin.
type DockerStatsCollector struct {
	source StatsSource
	life   *lifecycle

	mu         sync.Mutex
	containers []ContainerRef
	err        error

	streamCtx    context.Context
	streamCancel context.CancelFunc

	data []dataset.ContainerStatSample
}

func NewDockerStatsCollector(source StatsSource) *DockerStatsCollector {
	ctx, cancel := context.WithCancel(context.Background())
	return &DockerStatsCollector{
		source:       source,
		life:         newLifecycle(),
		streamCtx:    ctx,
		streamCancel: cancel,
	}
}

// SetContainers fixes the set of containers to observe for the rest of the
// run. There is no dynamic join/leave mid-experiment.
func (c *DockerStatsCollector) SetContainers(refs []ContainerRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containers = refs
}

func (c *DockerStatsCollector) Start() error {
	if err := c.life.begin(); err != nil {
		return err
	}
	go c.run()
	return nil
}

// Stop signals the worker, joins it and returns the accumulated dataset.
// The stop flag is checked once per multiplexer turn, so the call may block
// for one in-flight stream read. The dataset is truncated to a multiple of
// the container count so every container is represented an equal number of
// times; the trailing partial round is discarded. A backend error that
// terminated collection early is returned alongside the data gathered so
// far.
func (c *DockerStatsCollector) Stop() ([]dataset.ContainerStatSample, error) {
	if err := c.life.requestStop(); err != nil {
		return nil, err
	}
	c.streamCancel()
	c.life.wait()
	logging.GetCollectorLogger().Info("Docker stats collection ended")

	c.mu.Lock()
	n := len(c.containers)
	err := c.err
	c.mu.Unlock()

	if n > 0 {
		if rem := len(c.data) % n; rem != 0 {
			c.data = c.data[:len(c.data)-rem]
		}
	}
	return c.data, err
}

func (c *DockerStatsCollector) run() {
	defer c.life.finish()
	logger := logging.GetCollectorLogger()
	logger.Info("Docker stats collection started")

	// Phase 1: the target set is not known yet. Take one-shot samples of
	// whatever is currently running. Listing errors are transient here
	// ("no containers yet") and retried silently.
	for c.targets() == nil {
		select {
		case <-c.life.stopping():
			return
		default:
		}

		refs, err := c.source.ListContainers(c.streamCtx)
		if err != nil {
			if c.streamCtx.Err() != nil {
				return
			}
		} else {
			for _, ref := range refs {
				c.sampleOnce(ref)
			}
		}

		select {
		case <-c.life.stopping():
			return
		case <-time.After(oneShotInterval):
		}
	}

	// Phase 2: one decode goroutine per container feeding a channel, merged
	// by the round-robin multiplexer.
	refs := c.targets()
	sources := make([]<-chan *types.StatsJSON, 0, len(refs))
	for _, ref := range refs {
		src, err := c.openStream(ref)
		if err != nil {
			c.setErr(fmt.Errorf("opening stats stream for %s: %w", ref.Name, err))
			return
		}
		sources = append(sources, src)
	}

	roundRobin(sources, c.life.stopping(), func(raw *types.StatsJSON) {
		if sample, ok := Extract(raw); ok {
			c.data = append(c.data, sample)
		}
	})
}

// sampleOnce fetches a single non-streaming snapshot. Errors are tolerated;
// containers come and go while the system under test boots.
func (c *DockerStatsCollector) sampleOnce(ref ContainerRef) {
	body, err := c.source.ContainerStats(c.streamCtx, ref.ID, false)
	if err != nil {
		return
	}
	defer body.Close()

	var raw types.StatsJSON
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return
	}
	if raw.Name == "" {
		raw.Name = ref.Name
	}
	if sample, ok := Extract(&raw); ok {
		c.data = append(c.data, sample)
	}
}

func (c *DockerStatsCollector) openStream(ref ContainerRef) (<-chan *types.StatsJSON, error) {
	body, err := c.source.ContainerStats(c.streamCtx, ref.ID, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan *types.StatsJSON)
	go func() {
		defer close(ch)
		defer body.Close()

		decoder := json.NewDecoder(body)
		for {
			var raw types.StatsJSON
			if err := decoder.Decode(&raw); err != nil {
				if err != io.EOF && c.streamCtx.Err() == nil {
					// A real backend failure is fatal for the run: record it
					// and tear down the other streams so the multiplexer
					// exits early.
					c.setErr(fmt.Errorf("reading stats stream for %s: %w", ref.Name, err))
					c.streamCancel()
				}
				return
			}
			if raw.Name == "" {
				raw.Name = ref.Name
			}
			select {
			case ch <- &raw:
			case <-c.streamCtx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *DockerStatsCollector) targets() []ContainerRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.containers
}

func (c *DockerStatsCollector) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// roundRobin interleaves the sources fairly: each round takes exactly one
// item from every still-open source in a fixed order, skipping sources that
// have closed. It makes no global chronological ordering guarantee across
// sources. Returns when every source has closed or stop is signaled.
func roundRobin(sources []<-chan *types.StatsJSON, stop <-chan struct{}, emit func(*types.StatsJSON)) {
	open := len(sources)
	closed := make([]bool, len(sources))

	for open > 0 {
		for i, src := range sources {
			if closed[i] {
				continue
			}
			select {
			case raw, ok := <-src:
				if !ok {
					closed[i] = true
					open--
					continue
				}
				emit(raw)
			case <-stop:
				return
			}
		}
	}
}
