package netem

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerExecer runs commands inside containers via the Docker exec API.
// Commands run privileged; tc needs CAP_NET_ADMIN.
type DockerExecer struct {
	cli *client.Client
}

func NewDockerExecer(cli *client.Client) *DockerExecer {
	return &DockerExecer{cli: cli}
}

func (e *DockerExecer) Exec(ctx context.Context, containerID string, cmd string) (ExecResult, error) {
	execConfig := types.ExecConfig{
		Cmd:          []string{"sh", "-c", cmd},
		AttachStdout: true,
		AttachStderr: true,
		Privileged:   true,
	}

	execResp, err := e.cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec instance: %w", err)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach to exec instance: %w", err)
	}
	defer attach.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, attach.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to inspect exec instance: %w", err)
	}

	return ExecResult{ExitCode: inspect.ExitCode, Output: buf.String()}, nil
}
