// Package netem applies latency, bandwidth and loss shaping to the network
// interfaces of running containers by driving tc inside each container.
package netem

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"netem-bench/internal/logging"

	"github.com/sirupsen/logrus"
)

// ExecResult is the outcome of one command executed inside a container.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Execer runs a command inside a container and reports exit code and
// combined output.
type Execer interface {
	Exec(ctx context.Context, containerID string, cmd string) (ExecResult, error)
}

// Conditions are passed through to tc netem verbatim, e.g. "500mbit",
// "10ms", "0.1%".
type Conditions struct {
	Bandwidth string
	Latency   string
	Loss      string
}

type Shaper struct {
	exec Execer
	cond Conditions
}

func NewShaper(exec Execer, cond Conditions) *Shaper {
	return &Shaper{exec: exec, cond: cond}
}

var ifaceRegex = regexp.MustCompile(`\d+: (eth\d+)`)

// interfaces extracts the ethN interface names from ip link show output.
func interfaces(linkShow string) []string {
	var ifaces []string
	for _, match := range ifaceRegex.FindAllStringSubmatch(linkShow, -1) {
		ifaces = append(ifaces, match[1])
	}
	return ifaces
}

func (s *Shaper) qdiscCommand(iface string) string {
	return fmt.Sprintf("tc qdisc add dev %s root netem delay %s rate %s loss %s",
		iface, s.cond.Latency, s.cond.Bandwidth, s.cond.Loss)
}

// Apply shapes every ethN interface of one container. Shaping must apply
// cleanly to all interfaces; any non-zero exit code is an error carrying
// enough context (command, container, exit code, output) to diagnose.
func (s *Shaper) Apply(ctx context.Context, containerID, containerName string) error {
	logger := logging.GetLogger()

	res, err := s.exec.Exec(ctx, containerID, "ip link show")
	if err != nil {
		return fmt.Errorf("listing interfaces on %s: %w", containerName, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ip link show on %s exited with %d: %s",
			containerName, res.ExitCode, strings.TrimSpace(res.Output))
	}

	ifaces := interfaces(res.Output)
	if len(ifaces) == 0 {
		logger.WithField("container", containerName).Warn("No ethN interfaces found, nothing to shape")
		return nil
	}

	for _, iface := range ifaces {
		cmd := s.qdiscCommand(iface)
		out, err := s.exec.Exec(ctx, containerID, cmd)
		if err != nil {
			return fmt.Errorf("applying netem on %s/%s: %w", containerName, iface, err)
		}
		if out.ExitCode != 0 {
			return fmt.Errorf("command %q on %s/%s exited with %d: %s",
				cmd, containerName, iface, out.ExitCode, strings.TrimSpace(out.Output))
		}
		logger.WithFields(logrus.Fields{
			"container": containerName,
			"interface": iface,
		}).Debug("Applied netem qdisc")
	}

	logger.WithFields(logrus.Fields{
		"container":  containerName,
		"interfaces": len(ifaces),
		"latency":    s.cond.Latency,
		"bandwidth":  s.cond.Bandwidth,
		"loss":       s.cond.Loss,
	}).Info("Network shaping applied")
	return nil
}
