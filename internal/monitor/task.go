package monitor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start on a running Task.
var ErrAlreadyRunning = errors.New("monitor: task already running")

// Logger defines the logging interface for the sweeps.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SweepFunc is one run of a periodic job.
type SweepFunc func(ctx context.Context)

// Task calls a SweepFunc every interval on its own goroutine.
//
// Thread Safety: Start and Stop may be called from any goroutine. Runs
// never overlap.
type Task struct {
	name       string
	interval   time.Duration
	runOnStart bool
	sweep      SweepFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewTask creates a stopped task. When runOnStart is true the first
// sweep happens immediately on Start instead of after one interval.
func NewTask(name string, interval time.Duration, runOnStart bool, sweep SweepFunc) *Task {
	return &Task{
		name:       name,
		interval:   interval,
		runOnStart: runOnStart,
		sweep:      sweep,
	}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Start launches the sweep loop. The loop ends when ctx is cancelled or
// Stop is called.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true

	go t.loop(loopCtx, t.done)
	return nil
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if t.runOnStart {
		t.sweep(ctx)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop cancels the loop and waits for an in-flight sweep to return.
// Safe to call on a stopped task.
func (t *Task) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.running = false
	t.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
