// Package experiment drives one full analysis run per branch: teardown,
// checkout, build, launch, network shaping, the concurrent collection
// window, trimming and final teardown.
package experiment

import (
	"context"
	"fmt"
	"time"

	"netem-bench/internal/collectors"
	"netem-bench/internal/command"
	"netem-bench/internal/config"
	"netem-bench/internal/dataset"
	"netem-bench/internal/logging"
	"netem-bench/internal/netem"
	"netem-bench/internal/workspace"

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

const (
	// cleanTimeout bounds one attempt of the leftover-container cleanup.
	cleanTimeout = 30 * time.Second
	// killTimeout bounds the teardown of a single container. Containers
	// that do not die in time are logged and left behind; the data has
	// already been collected at that point.
	killTimeout = 3 * time.Second
)

type Runner struct {
	cfg    *config.ExperimentConfig
	docker *client.Client
	repo   *workspace.Repo
}

func NewRunner(cfg *config.ExperimentConfig, docker *client.Client, repo *workspace.Repo) *Runner {
	return &Runner{cfg: cfg, docker: docker, repo: repo}
}

// Run executes the full lifecycle for one branch and returns the trimmed
// result. Any failure before the collection window aborts the run without
// data; the caller decides whether to continue with remaining branches.
func (r *Runner) Run(ctx context.Context, branch string) (*dataset.ExperimentResult, error) {
	logger := logging.GetLogger()
	logger.WithField("branch", branch).Info("Analyzing branch")

	exp := r.cfg.Experiment
	workdir := r.repo.Dir()

	// Clean: remove possible leftover containers from a prior run
	if err := command.Run(ctx, "docker compose down -t 1", command.RunOptions{
		Dir:     workdir,
		Timeout: cleanTimeout,
	}); err != nil {
		return nil, fmt.Errorf("cleaning leftover containers: %w", err)
	}

	// Checkout: reset the working tree to the branch head
	if err := r.repo.Checkout(branch); err != nil {
		return nil, fmt.Errorf("checking out branch: %w", err)
	}

	// Build: run the build steps, each gated on its success marker
	for _, step := range exp.Build.Steps {
		if err := command.Run(ctx, step.Command, command.RunOptions{
			Dir:     workdir,
			Expect:  step.Expect,
			Timeout: step.GetTimeout(),
		}); err != nil {
			return nil, fmt.Errorf("build step %q: %w", step.Command, err)
		}
	}

	// Stop anything else still running before the system under test starts
	if err := r.killRunning(ctx); err != nil {
		return nil, fmt.Errorf("stopping stray containers: %w", err)
	}

	// Start the stats collector before launch so network traffic during
	// container startup (e.g. key exchanges) is captured too.
	statsSource := collectors.NewDockerStatsSource(r.docker)
	statsCollector := collectors.NewDockerStatsCollector(statsSource)
	if err := statsCollector.Start(); err != nil {
		return nil, fmt.Errorf("starting stats collector: %w", err)
	}

	// Launch: bring the system up and wait for its readiness marker
	proc, err := command.StartBackground(ctx, exp.Launch.Command, workdir,
		exp.Launch.ReadyMarker, r.cfg.GetLaunchTimeout())
	if err != nil {
		statsCollector.Stop()
		return nil, fmt.Errorf("launching system under test: %w", err)
	}

	refs, err := statsSource.ListContainers(ctx)
	if err != nil || len(refs) == 0 {
		statsCollector.Stop()
		r.teardown(proc, refs)
		if err == nil {
			err = fmt.Errorf("no running containers after launch")
		}
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	statsCollector.SetContainers(refs)

	// Shape: every interface of every container, or the run is invalid
	shaper := netem.NewShaper(netem.NewDockerExecer(r.docker), netem.Conditions{
		Bandwidth: exp.Network.MaxBandwidth,
		Latency:   exp.Network.MinLatency,
		Loss:      exp.Network.Loss,
	})
	for _, ref := range refs {
		if err := shaper.Apply(ctx, ref.ID, ref.Name); err != nil {
			statsCollector.Stop()
			r.teardown(proc, refs)
			return nil, fmt.Errorf("network shaping: %w", err)
		}
	}

	// Collect: both collectors run concurrently for the full window
	loadCollector := collectors.NewLoadCollector(exp.Load.TargetURL,
		exp.Load.MessageLength, r.cfg.GetRequestTimeout())
	if err := loadCollector.Start(); err != nil {
		statsCollector.Stop()
		r.teardown(proc, refs)
		return nil, fmt.Errorf("starting load collector: %w", err)
	}

	logger.WithField("duration", r.cfg.GetTotalDuration()).Info("Collecting")
	select {
	case <-time.After(r.cfg.GetTotalDuration()):
	case <-ctx.Done():
	}

	clientPerf, loadErr := loadCollector.Stop()
	dockerStats, statsErr := statsCollector.Stop()

	// Teardown happens regardless of collection outcome
	r.teardown(proc, refs)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if loadErr != nil {
		return nil, fmt.Errorf("stopping load collector: %w", loadErr)
	}
	if statsErr != nil {
		return nil, fmt.Errorf("container metrics collection failed: %w", statsErr)
	}

	// Trim: discard the spin-up transient, keep steady state only
	result := &dataset.ExperimentResult{DockerStats: dockerStats, ClientPerf: clientPerf}
	result.TrimSpinUp(r.cfg.GetSpinupDuration())

	logger.WithFields(logrus.Fields{
		"branch":       branch,
		"docker_stats": len(result.DockerStats),
		"client_perf":  len(result.ClientPerf),
	}).Info("Collection finished")

	return result, nil
}

// killRunning force-kills every currently running container. Used before
// launch so a stray system from another run cannot pollute the dataset.
func (r *Runner) killRunning(ctx context.Context) error {
	source := collectors.NewDockerStatsSource(r.docker)
	refs, err := source.ListContainers(ctx)
	if err != nil {
		return err
	}
	logger := logging.GetLogger()
	for _, ref := range refs {
		if err := r.docker.ContainerKill(ctx, ref.ID, "KILL"); err != nil {
			if client.IsErrNotFound(err) {
				continue
			}
			logger.WithField("container", ref.Name).WithError(err).Warn("Failed to kill stray container")
		}
	}
	return nil
}

// teardown terminates the launch process and kills every container with a
// bounded per-container timeout. Failures here are reported, never fatal:
// the dataset is already in hand.
func (r *Runner) teardown(proc *command.Handle, refs []collectors.ContainerRef) {
	logger := logging.GetLogger()

	proc.Kill()
	proc.Wait()

	for _, ref := range refs {
		killCtx, cancel := context.WithTimeout(context.Background(), killTimeout)
		done := make(chan error, 1)
		go func(id string) {
			done <- r.docker.ContainerKill(killCtx, id, "KILL")
		}(ref.ID)

		select {
		case err := <-done:
			if err != nil && !client.IsErrNotFound(err) {
				logger.WithField("container", ref.Name).WithError(err).Warn("Failed to kill container")
			}
		case <-time.After(killTimeout):
			// probably stuck; leave it behind and move on
			logger.WithField("container", ref.Name).Error("Unable to kill container in time")
		}
		cancel()
	}
}
