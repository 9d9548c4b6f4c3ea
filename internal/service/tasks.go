package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrRunnerClosed is returned by tasks submitted after Shutdown.
var ErrRunnerClosed = errors.New("task runner closed")

// Task is a handle on one background operation.
type Task struct {
	Op   string
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's error. Only valid after Done is closed.
func (t *Task) Err() error { return t.err }

type taskFailure struct {
	op  string
	err error
	dur time.Duration
}

// TaskRunner runs detached operations with a timeout. Failures are sent to an
// error channel that a single goroutine drains into the logger; callers never wait.
type TaskRunner struct {
	timeout time.Duration
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	failures chan taskFailure
	drained  chan struct{}
}

// NewTaskRunner creates a runner whose tasks are bounded by timeout.
func NewTaskRunner(timeout time.Duration, logger *slog.Logger) *TaskRunner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	base, cancel := context.WithCancel(context.Background())
	r := &TaskRunner{
		timeout:  timeout,
		logger:   logger.With("component", "tasks"),
		base:     base,
		cancel:   cancel,
		failures: make(chan taskFailure, 64),
		drained:  make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *TaskRunner) drain() {
	defer close(r.drained)
	for f := range r.failures {
		r.logger.Error("background task failed", "op", f.op, "duration", f.dur, "error", f.err)
	}
}

// Go starts fn in the background and returns its handle.
func (r *TaskRunner) Go(op string, fn func(ctx context.Context) error) *Task {
	t := &Task{Op: op, done: make(chan struct{})}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		t.err = ErrRunnerClosed
		close(t.done)
		return t
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		start := time.Now()

		ctx, cancel := context.WithTimeout(r.base, r.timeout)
		defer cancel()

		t.err = runGuarded(ctx, fn)
		close(t.done)

		if t.err != nil {
			r.failures <- taskFailure{op: op, err: t.err, dur: time.Since(start)}
			return
		}
		r.logger.Debug("background task finished", "op", op, "duration", time.Since(start))
	}()
	return t
}

func runGuarded(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Shutdown stops accepting tasks and waits for running ones until ctx is done,
// after which the remaining tasks are cancelled.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = ctx.Err()
		r.cancel()
		<-finished
	}
	r.cancel()
	close(r.failures)
	<-r.drained
	return err
}
