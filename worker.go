package pio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Command is one unit of work for a Worker: take Steps steps in the given
// direction, pausing Delay after each one.
type Command struct {
	Steps   int           `yaml:"steps"`
	Delay   time.Duration `yaml:"delay"`
	Forward bool          `yaml:"forward"`
}

// Validate rejects negative step counts and delays.
func (c Command) Validate() error {
	if c.Steps < 0 {
		return configErr("steps", c.Steps, "must not be negative")
	}
	if c.Delay < 0 {
		return configErr("delay", c.Delay, "must not be negative")
	}
	return nil
}

func (c Command) String() string {
	dir := "forward"
	if !c.Forward {
		dir = "backward"
	}
	return fmt.Sprintf("%d steps %s every %v", c.Steps, dir, c.Delay)
}

// Actuator is what a Worker drives.  Close must leave the hardware safe
// (coils de-energised) and give back any daemon handle.
type Actuator interface {
	Step(forward bool) error
	Close() error
}

// WorkerState is the lifecycle state of a Worker.
type WorkerState int

const (
	StateIdle WorkerState = iota
	StatePending
	StateExecuting
	StateStopped
	StateFailed
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateExecuting:
		return "executing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
}

// Worker runs commands for one actuator on a goroutine of its own.  It holds
// at most one command: Submit is accepted only while the worker is idle, so a
// controller polls Ready before handing over the next command.
//
// Abort and stop requests are fire-and-forget.  They are observed between
// steps, never in the middle of writing a phase pattern.
type Worker struct {
	name string
	act  Actuator
	log  *EventLogger

	mu       sync.Mutex
	state    WorkerState
	stopping bool
	err      error

	slot  chan Command  // capacity 1; only filled while state is StatePending
	abort chan struct{} // capacity 1
	stop  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	steps    atomic.Int64
	commands atomic.Int64
}

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

// WithEventLogger sets the logger for command events.  Events are prefixed
// with the worker name.
func WithEventLogger(l *EventLogger) WorkerOption {
	return func(w *Worker) { w.log = l }
}

// NewWorker returns an idle worker that owns act.  Call Start to launch its
// goroutine.
func NewWorker(name string, act Actuator, opts ...WorkerOption) *Worker {
	w := &Worker{
		name:  name,
		act:   act,
		slot:  make(chan Command, 1),
		abort: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.Named(name)
	return w
}

// Name returns the worker's name.
func (w *Worker) Name() string { return w.name }

// Start launches the worker goroutine.  Extra calls do nothing.
func (w *Worker) Start() {
	w.startOnce.Do(func() { go w.run() })
}

// Submit hands cmd to the worker without blocking.  It fails with
// ErrNotReady while a previous command is queued or running, with
// ErrWorkerStopped after RequestStop, and with the worker's error once it
// has failed.  The pending command is never overwritten.
func (w *Worker) Submit(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.state == StateFailed:
		return w.err
	case w.stopping || w.state == StateStopped:
		return ErrWorkerStopped
	case w.state != StateIdle:
		return ErrNotReady
	}
	w.state = StatePending
	w.slot <- cmd
	return nil
}

// Ready reports whether the worker is idle and can take a command.  A worker
// that stopped on a transport error returns false and that error.
func (w *Worker) Ready() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateFailed {
		return false, w.err
	}
	return w.state == StateIdle, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// RequestAbort cuts the queued or running command short after its current
// step.  The shortened command still counts as done.  It does nothing while
// the worker is idle.
func (w *Worker) RequestAbort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePending && w.state != StateExecuting {
		return
	}
	select {
	case w.abort <- struct{}{}:
	default:
	}
}

// RequestStop asks the worker to exit.  A queued or running command is
// finished (or aborted) first; then the actuator is closed.
func (w *Worker) RequestStop() {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Wait blocks until the worker goroutine exits and returns its terminal
// error, if any.  It starts the worker if nobody did, so the actuator is
// always closed.
func (w *Worker) Wait() error {
	w.Start()
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Steps returns the total number of steps performed.
func (w *Worker) Steps() int64 { return w.steps.Load() }

// Commands returns the number of commands finished, including aborted ones.
func (w *Worker) Commands() int64 { return w.commands.Load() }

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case cmd := <-w.slot:
			if err := w.execute(cmd); err != nil {
				w.shutdown(err)
				return
			}
		case <-w.stop:
			// A command submitted just before the stop still runs.
			select {
			case cmd := <-w.slot:
				if err := w.execute(cmd); err != nil {
					w.shutdown(err)
					return
				}
				continue
			default:
			}
			w.shutdown(nil)
			return
		}
	}
}

func (w *Worker) execute(cmd Command) error {
	w.mu.Lock()
	w.state = StateExecuting
	w.mu.Unlock()
	w.log.Log("start %v", cmd)

	var err error
	done, aborted := 0, false
	for done < cmd.Steps {
		if err = w.act.Step(cmd.Forward); err != nil {
			break
		}
		done++
		w.steps.Add(1)
		if w.pause(cmd.Delay) {
			aborted = true
			break
		}
	}

	w.mu.Lock()
	// An abort that arrived after the last step must not leak into the next command.
	select {
	case <-w.abort:
	default:
	}
	if err != nil {
		w.state = StateFailed
		w.err = fmt.Errorf("worker %s: step %d of %d: %w", w.name, done+1, cmd.Steps, err)
		err = w.err
	} else {
		w.state = StateIdle
	}
	w.mu.Unlock()

	w.commands.Add(1)
	switch {
	case err != nil:
		w.log.Log("failed after %d steps: %v", done, err)
	case aborted:
		w.log.Log("aborted after %d of %d steps", done, cmd.Steps)
	default:
		w.log.Log("finished %d steps", done)
	}
	return err
}

// pause sleeps for d and reports whether an abort was requested.
func (w *Worker) pause(d time.Duration) bool {
	select {
	case <-w.abort:
		return true
	default:
	}
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.abort:
		return true
	case <-t.C:
		return false
	}
}

func (w *Worker) shutdown(cause error) {
	cerr := w.act.Close()
	w.mu.Lock()
	defer w.mu.Unlock()
	if cause != nil {
		w.state = StateFailed
		w.err = cause
		if cerr != nil {
			w.err = errors.Join(cause, cerr)
		}
		w.log.Log("exit on error")
		return
	}
	w.state = StateStopped
	if cerr != nil {
		w.err = fmt.Errorf("worker %s: close: %w", w.name, cerr)
	}
	w.log.Log("exit")
}
