package pio

import (
	"context"
	"errors"
)

const (
	// DefaultMotorFrequency is the PWM frequency used when none is given, in Hz.
	DefaultMotorFrequency = 15000
	motorRange            = 100
)

// Motor drives a DC motor through one half of a dual H-bridge (the
// SN754410, for example).  Forward puts PWM on pin1 and holds pin2 low;
// reverse does the opposite.
type Motor struct {
	h          *Handle
	pin1, pin2 int
	forward    bool
}

// NewMotor sets both pins up for PWM with a 0-100 duty range and leaves the
// motor stopped.  A zero frequency selects DefaultMotorFrequency.
func NewMotor(ctx context.Context, m *ConnectionManager, pin1, pin2, frequency int) (*Motor, error) {
	if !validPin(pin1) {
		return nil, configErr("pin", pin1, "not a BCM GPIO number")
	}
	if !validPin(pin2) || pin2 == pin1 {
		return nil, configErr("pin", pin2, "must be a distinct BCM GPIO number")
	}
	if frequency == 0 {
		frequency = DefaultMotorFrequency
	}
	if frequency < 0 {
		return nil, configErr("frequency", frequency, "must be positive")
	}

	h, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	mo := &Motor{h: h, pin1: pin1, pin2: pin2, forward: true}
	for _, pin := range []int{pin1, pin2} {
		if err := mo.setup(pin, frequency); err != nil {
			return nil, errors.Join(err, h.Release())
		}
	}
	if err := mo.Stop(); err != nil {
		return nil, errors.Join(err, h.Release())
	}
	return mo, nil
}

func (mo *Motor) setup(pin, frequency int) error {
	if err := mo.h.SetPinMode(pin, Output); err != nil {
		return err
	}
	if err := mo.h.SetPWMRange(pin, motorRange); err != nil {
		return err
	}
	return mo.h.SetPWMFrequency(pin, frequency)
}

// Go runs the motor at duty percent in the given direction.  A change of
// direction stops the motor first, but only briefly: callers wanting a longer
// spin down should Stop and wait themselves.
func (mo *Motor) Go(duty int, forward bool) error {
	if duty < 0 || duty > motorRange {
		return configErr("duty", duty, "must be 0 - 100")
	}
	if forward != mo.forward {
		if err := mo.Stop(); err != nil {
			return err
		}
		mo.forward = forward
	}
	on, off := mo.pin1, mo.pin2
	if !forward {
		on, off = mo.pin2, mo.pin1
	}
	if err := mo.h.SetPWMDutyCycle(on, duty); err != nil {
		return err
	}
	return mo.h.WritePin(off, 0)
}

// Stop drives both pins low.
func (mo *Motor) Stop() error {
	if err := mo.h.WritePin(mo.pin1, 0); err != nil {
		return err
	}
	return mo.h.WritePin(mo.pin2, 0)
}

// Close stops the motor and releases the handle.
func (mo *Motor) Close() error {
	err := mo.Stop()
	return errors.Join(err, mo.h.Release())
}
