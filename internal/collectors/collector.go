// Package collectors contains the two background data producers of an
// experiment run: the container metrics collector and the client load
// collector. Both share the same lifecycle contract: Start launches a
// single worker goroutine, Stop signals it exactly once and joins it
// before the accumulated dataset is handed back. After Stop returns the
// dataset is immutable.
package collectors

import (
	"errors"
	"sync"
)

var (
	// ErrNotStarted is returned when Stop is called on a collector whose
	// Start was never called.
	ErrNotStarted = errors.New("collector not started")
	// ErrAlreadyStopped is returned when Stop is called twice. Stopping is
	// terminal; the rejected call leaves the dataset untouched.
	ErrAlreadyStopped = errors.New("collector already stopped")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("collector already started")
)

// lifecycle implements the running -> stopping -> stopped transition shared
// by both collectors. The stop channel is the only signal between the
// orchestrator and the worker; joining done is the memory barrier that makes
// the worker's dataset safe to read.
type lifecycle struct {
	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *lifecycle) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrAlreadyStarted
	}
	l.started = true
	return nil
}

func (l *lifecycle) requestStop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return ErrNotStarted
	}
	if l.stopped {
		return ErrAlreadyStopped
	}
	l.stopped = true
	close(l.stopCh)
	return nil
}

// stopping is observed by the worker at iteration boundaries only; a worker
// may take one in-flight blocking call to actually exit.
func (l *lifecycle) stopping() <-chan struct{} {
	return l.stopCh
}

func (l *lifecycle) finish() {
	close(l.done)
}

func (l *lifecycle) wait() {
	<-l.done
}
