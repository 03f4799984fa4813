package pio

import (
	"context"
	"errors"
)

const (
	servoRange     = 2000 // 10us per count at 50Hz
	servoFrequency = 50
	servoCentre    = 150 // 1.5ms pulse
)

// Servo positions a hobby servo.  Connect pin to the control wire and the
// servo ground to a Pi ground.
type Servo struct {
	h   *Handle
	pin int
}

// NewServo sets pin up for 50Hz PWM and leaves the servo switched off.
func NewServo(ctx context.Context, m *ConnectionManager, pin int) (*Servo, error) {
	if !validPin(pin) {
		return nil, configErr("pin", pin, "not a BCM GPIO number")
	}
	h, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s := &Servo{h: h, pin: pin}
	err = h.SetPinMode(pin, Output)
	if err == nil {
		err = h.SetPWMRange(pin, servoRange)
	}
	if err == nil {
		err = h.SetPWMFrequency(pin, servoFrequency)
	}
	if err == nil {
		err = s.Stop()
	}
	if err != nil {
		return nil, errors.Join(err, h.Release())
	}
	return s, nil
}

// ServoDuty maps a position in -100..100 to a duty cycle in the servo's
// 2000-count range.
func ServoDuty(pos int) int {
	return servoCentre + pos/2
}

// Set moves the servo to pos, from -100 to 100 with 0 at centre.
func (s *Servo) Set(pos int) error {
	if pos < -100 || pos > 100 {
		return configErr("position", pos, "must be -100 - 100")
	}
	return s.h.SetPWMDutyCycle(s.pin, ServoDuty(pos))
}

// Stop switches the PWM off so the servo no longer holds position.
func (s *Servo) Stop() error {
	return s.h.SetPWMDutyCycle(s.pin, 0)
}

// Close stops the servo and releases the handle.
func (s *Servo) Close() error {
	err := s.Stop()
	return errors.Join(err, s.h.Release())
}
