// Package command runs the external build and launch steps of an
// experiment: foreground commands whose combined output must contain a
// success marker, and long-running background commands whose output is
// scanned for a readiness marker before control returns.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"netem-bench/internal/logging"

	"github.com/sirupsen/logrus"
)

// RunOptions configures one foreground command.
type RunOptions struct {
	Dir string
	// Expect is a success marker that must appear in the combined output of
	// a completed run. A finished command without the marker is fatal.
	Expect string
	// Timeout bounds a single attempt. Attempts that hit the timeout are
	// treated as transient infrastructure failures and retried
	// indefinitely; there is no attempt count.
	Timeout time.Duration
}

// Run executes cmdline in the foreground until one attempt completes.
func Run(ctx context.Context, cmdline string, opts RunOptions) error {
	logger := logging.GetLogger()

	for {
		out, err := runOnce(ctx, cmdline, opts)
		if err == nil {
			if opts.Expect != "" && !strings.Contains(string(out), opts.Expect) {
				return fmt.Errorf("command %q finished without expected output %q", cmdline, opts.Expect)
			}
			logger.WithField("command", cmdline).Debug("Command finished")
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			logger.WithFields(logrus.Fields{
				"command": cmdline,
				"timeout": opts.Timeout,
			}).Warn("Command timed out, retrying")
			continue
		}
		return fmt.Errorf("command %q failed: %w", cmdline, err)
	}
}

func runOnce(ctx context.Context, cmdline string, opts RunOptions) ([]byte, error) {
	attemptCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(attemptCtx, "sh", "-c", cmdline)
	cmd.Dir = opts.Dir

	out, err := cmd.CombinedOutput()
	if attemptCtx.Err() == context.DeadlineExceeded {
		return out, context.DeadlineExceeded
	}
	if err != nil {
		return out, fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Handle tracks a background command. Kill terminates the whole process
// group, so children spawned by the shell go down with it.
type Handle struct {
	cmd    *exec.Cmd
	exited chan struct{}
}

// StartBackground starts cmdline detached and, when marker is non-empty,
// blocks until the marker appears on a line of combined output or the
// timeout elapses. On timeout the process is killed and an error returned;
// proceeding against a possibly-unready system is never an option. After
// the marker is found the remaining output is drained in the background so
// the process cannot stall on a full pipe.
func StartBackground(ctx context.Context, cmdline string, dir string, marker string, timeout time.Duration) (*Handle, error) {
	logger := logging.GetLogger()

	pr, pw := io.Pipe()
	cmd := exec.Command("sh", "-c", cmdline)
	cmd.Dir = dir
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting command %q: %w", cmdline, err)
	}
	logger.WithFields(logrus.Fields{
		"command": cmdline,
		"pid":     cmd.Process.Pid,
	}).Debug("Background command started")

	h := &Handle{cmd: cmd, exited: make(chan struct{})}

	go func() {
		cmd.Wait()
		pw.Close()
		close(h.exited)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	if marker == "" {
		go drain(lines)
		return h, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				h.Kill()
				return nil, fmt.Errorf("command %q exited before readiness marker %q appeared", cmdline, marker)
			}
			logger.WithField("line", line).Trace("Background command output")
			if strings.Contains(line, marker) {
				logger.WithField("command", cmdline).Info("Readiness marker observed")
				go drain(lines)
				return h, nil
			}
		case <-timer.C:
			h.Kill()
			return nil, fmt.Errorf("command %q did not produce readiness marker %q within %s", cmdline, marker, timeout)
		case <-ctx.Done():
			h.Kill()
			return nil, ctx.Err()
		}
	}
}

// drain keeps consuming output lines so the writer side never blocks.
func drain(lines <-chan string) {
	for range lines {
	}
}

// Kill terminates the process group. Safe to call after the process has
// already exited.
func (h *Handle) Kill() {
	if h.cmd.Process != nil {
		syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
	}
}

// Wait blocks until the process has exited.
func (h *Handle) Wait() {
	<-h.exited
}
