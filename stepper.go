package pio

import (
	"context"
	"errors"
)

// StepperConfig describes how a stepper motor is wired to the header.
// Pins are BCM numbers in coil order; give two pins for inverter-assisted
// full stepping or four pins for an H-bridge such as the SN754410.
type StepperConfig struct {
	Pins     []int `yaml:"pins"`
	HalfStep bool  `yaml:"half_step"`
}

// Validate checks the wiring without touching the daemon.
func (c StepperConfig) Validate() error {
	if len(c.Pins) != 2 && len(c.Pins) != 4 {
		return configErr("pin count", len(c.Pins), "must be 2 or 4")
	}
	if len(c.Pins) == 2 && c.HalfStep {
		return configErr("half_step", c.HalfStep, "two-pin wiring only supports full steps")
	}
	seen := make(map[int]bool, len(c.Pins))
	for _, p := range c.Pins {
		if !validPin(p) {
			return configErr("pin", p, "not a BCM GPIO number")
		}
		if seen[p] {
			return configErr("pin", p, "used twice")
		}
		seen[p] = true
	}
	return nil
}

// Stepper drives a stepper motor by energising its pins in phase order.
// It is not safe for concurrent use; hand it to a Worker to run it from a
// goroutine of its own.
type Stepper struct {
	h        *Handle
	pins     []int
	seq      *PhaseSequencer
	position int
}

// NewStepper validates cfg, claims a handle from m, and sets every pin to a
// low output.  Configuration errors are returned before any daemon I/O.
func NewStepper(ctx context.Context, m *ConnectionManager, cfg StepperConfig) (*Stepper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seq, err := NewPhaseSequencer(len(cfg.Pins), cfg.HalfStep)
	if err != nil {
		return nil, err
	}
	h, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stepper{h: h, pins: append([]int(nil), cfg.Pins...), seq: seq}
	for _, pin := range s.pins {
		if err := h.SetPinMode(pin, Output); err != nil {
			return nil, errors.Join(err, h.Release())
		}
		if err := h.WritePin(pin, 0); err != nil {
			return nil, errors.Join(err, h.Release())
		}
	}
	return s, nil
}

// Step advances one phase forward or backward and writes the new pattern.
func (s *Stepper) Step(forward bool) error {
	pattern := s.seq.Advance(forward)
	for i, pin := range s.pins {
		if err := s.h.WritePin(pin, pattern[i]); err != nil {
			return err
		}
	}
	if forward {
		s.position++
	} else {
		s.position--
	}
	return nil
}

// Position returns the signed number of steps taken since construction.
func (s *Stepper) Position() int { return s.position }

// Phase returns the index of the current phase pattern.
func (s *Stepper) Phase() int { return s.seq.Index() }

// Pins returns the pins the stepper drives.
func (s *Stepper) Pins() []int { return append([]int(nil), s.pins...) }

// Stop de-energises the coils by driving every pin low.
func (s *Stepper) Stop() error {
	var errs []error
	for _, pin := range s.pins {
		if err := s.h.WritePin(pin, 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the motor and releases the handle.  The handle is released
// even when driving the pins low fails.
func (s *Stepper) Close() error {
	err := s.Stop()
	return errors.Join(err, s.h.Release())
}
