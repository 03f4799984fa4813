package pio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is the pause between coordinator sweeps.
const DefaultPollInterval = 100 * time.Millisecond

// lane is one worker together with its plan and cursor.
type lane struct {
	w        *Worker
	plan     []Command
	next     int
	failed   bool
	reported bool
}

// Coordinator feeds several workers from their own command plans.  Each
// worker gets its next command as soon as it reports ready; workers never
// wait for each other.  The coordinator owns its workers: Run stops and
// joins all of them before returning.
type Coordinator struct {
	interval time.Duration
	log      *EventLogger
	alerts   []AlertHandler

	mu    sync.Mutex
	lanes []*lane
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithPollInterval sets the pause between sweeps.
func WithPollInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithCoordinatorLogger sets the logger for sweep events.
func WithCoordinatorLogger(l *EventLogger) CoordinatorOption {
	return func(c *Coordinator) { c.log = l }
}

// WithAlerts sets the handlers notified when a worker fails.
func WithAlerts(h ...AlertHandler) CoordinatorOption {
	return func(c *Coordinator) { c.alerts = append(c.alerts, h...) }
}

// NewCoordinator returns a coordinator with no workers.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add registers w with its plan.  Every command is validated up front so a
// bad plan cannot stall the sweep loop halfway through.
func (c *Coordinator) Add(w *Worker, plan []Command) error {
	for i, cmd := range plan {
		if err := cmd.Validate(); err != nil {
			return fmt.Errorf("worker %s, command %d: %w", w.Name(), i, err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lanes = append(c.lanes, &lane{w: w, plan: append([]Command(nil), plan...)})
	return nil
}

// AddSteppers builds a Stepper and Worker for each configuration and adds
// them with their plans.  If any stepper cannot be built, the ones already
// added are stopped, closed and removed again.
func (c *Coordinator) AddSteppers(ctx context.Context, m *ConnectionManager, cfgs []WorkerConfig) error {
	for _, wc := range cfgs {
		for i, cmd := range wc.Plan {
			if err := cmd.Validate(); err != nil {
				return fmt.Errorf("worker %s, command %d: %w", wc.Name, i, err)
			}
		}
	}
	c.mu.Lock()
	base := len(c.lanes)
	c.mu.Unlock()

	var added []*Worker
	for _, wc := range cfgs {
		s, err := NewStepper(ctx, m, wc.StepperConfig)
		if err != nil {
			err = fmt.Errorf("worker %s: %w", wc.Name, err)
			for _, w := range added {
				w.RequestStop()
				err = errors.Join(err, w.Wait())
			}
			c.mu.Lock()
			c.lanes = c.lanes[:base]
			c.mu.Unlock()
			return err
		}
		w := NewWorker(wc.Name, s, WithEventLogger(c.log))
		c.mu.Lock()
		c.lanes = append(c.lanes, &lane{w: w, plan: append([]Command(nil), wc.Plan...)})
		c.mu.Unlock()
		added = append(added, w)
	}
	return nil
}

// Workers returns the registered workers in Add order.
func (c *Coordinator) Workers() []*Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Worker, len(c.lanes))
	for i, l := range c.lanes {
		out[i] = l.w
	}
	return out
}

// Progress returns, per worker in Add order, how many plan commands have
// been submitted.
func (c *Coordinator) Progress() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.lanes))
	for i, l := range c.lanes {
		out[i] = l.next
	}
	return out
}

// Run starts every worker and sweeps until all plans have been handed out or
// ctx is cancelled.  Either way it then asks every worker to stop and waits
// for all of them.  After a normal finish the commands already submitted run
// to completion; after cancellation they are aborted at the next step.  The
// first worker error is returned.  Cancellation itself is not an error.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	for _, l := range c.lanes {
		l.w.Start()
	}
	c.mu.Unlock()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			c.log.Log("cancelled at %v", c.Progress())
			return c.drain(true)
		}
		if !c.sweep() {
			c.log.Log("all plans submitted")
			return c.drain(false)
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// sweep submits the next command to every ready worker and reports whether
// any plan still has commands left.
func (c *Coordinator) sweep() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := false
	for _, l := range c.lanes {
		if l.failed || l.next >= len(l.plan) {
			continue
		}
		ready, err := l.w.Ready()
		if err != nil {
			l.failed = true
			c.report(l, err)
			continue
		}
		if ready {
			if err := l.w.Submit(l.plan[l.next]); err != nil {
				l.failed = true
				c.report(l, err)
				continue
			}
			c.log.Log("%s: command %d/%d: %v", l.w.Name(), l.next+1, len(l.plan), l.plan[l.next])
			l.next++
		}
		if l.next < len(l.plan) {
			remaining = true
		}
	}
	return remaining
}

// drain stops every worker, aborting in-flight commands if asked, and waits
// for all of them to exit.
func (c *Coordinator) drain(abort bool) error {
	c.mu.Lock()
	lanes := append([]*lane(nil), c.lanes...)
	c.mu.Unlock()

	for _, l := range lanes {
		if abort {
			l.w.RequestAbort()
		}
		l.w.RequestStop()
	}
	var g errgroup.Group
	for _, l := range lanes {
		l := l
		g.Go(func() error {
			err := l.w.Wait()
			if err != nil {
				c.mu.Lock()
				c.report(l, err)
				c.mu.Unlock()
			}
			return err
		})
	}
	return g.Wait()
}

// report notifies the alert handlers once per failed worker.  Callers hold c.mu.
func (c *Coordinator) report(l *lane, err error) {
	if l.reported {
		return
	}
	l.reported = true
	f := Fault{Worker: l.w.Name(), Err: err, At: time.Now()}
	c.log.Log("worker %s failed: %v", f.Worker, err)
	for _, h := range c.alerts {
		if serr := h.Send(f, c.log); serr != nil {
			c.log.Log("alert handler %s error: %v", h.Name(), serr)
		}
	}
}
