package pio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrSimInjected is the error returned by simulated calls that were told to fail.
var ErrSimInjected = errors.New("simulated daemon failure")

// PinWrite is one recorded WritePin call.
type PinWrite struct {
	Pin   int
	Level int
}

// SimDaemon is an in-memory stand-in for the pin-control daemon.  It records
// everything written through its channels so that tests (and desktop runs of
// the programs) can inspect the result.  All methods are safe for concurrent
// use.
type SimDaemon struct {
	mu sync.Mutex

	unreachable bool
	failAfter   int // fail WritePin once this many writes succeeded; <0 disables
	respond     func(chipSelect int, out []byte) []byte

	dials   int
	open    int
	modes   map[int]PinMode
	levels  map[int]int
	writes  []PinWrite
	pwm     map[int][3]int // range, frequency, duty
	spiOpen map[SPIHandle]int
	nextSPI SPIHandle
}

// NewSimDaemon returns a reachable simulated daemon with no injected faults.
func NewSimDaemon() *SimDaemon {
	return &SimDaemon{
		failAfter: -1,
		modes:     make(map[int]PinMode),
		levels:    make(map[int]int),
		pwm:       make(map[int][3]int),
		spiOpen:   make(map[SPIHandle]int),
	}
}

// SetUnreachable makes subsequent dials fail.
func (d *SimDaemon) SetUnreachable(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unreachable = v
}

// FailWritesAfter makes WritePin fail once n more writes have succeeded.
// A negative n removes the fault.
func (d *SimDaemon) FailWritesAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n < 0 {
		d.failAfter = -1
		return
	}
	d.failAfter = len(d.writes) + n
}

// SetSPIResponder installs the function that produces the bytes clocked in
// by TransferSPI.  Without one, transfers read back zeros.
func (d *SimDaemon) SetSPIResponder(fn func(chipSelect int, out []byte) []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.respond = fn
}

// Dial implements Dialer.
func (d *SimDaemon) Dial(ctx context.Context, host string, port int) (Channel, error) {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.unreachable {
		return nil, &ConnectionError{Addr: addr, Err: ErrSimInjected}
	}
	d.open++
	return &simChannel{d: d}, nil
}

// Dials returns how many connection attempts were made.
func (d *SimDaemon) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// OpenChannels returns the number of channels not yet closed.
func (d *SimDaemon) OpenChannels() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Level returns the last level written to pin.
func (d *SimDaemon) Level(pin int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[pin]
}

// Mode returns the mode last set on pin.
func (d *SimDaemon) Mode(pin int) (PinMode, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.modes[pin]
	return m, ok
}

// Writes returns a copy of the write history.
func (d *SimDaemon) Writes() []PinWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PinWrite(nil), d.writes...)
}

// WritesTo returns the levels written to pin, oldest first.
func (d *SimDaemon) WritesTo(pin int) []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []int
	for _, w := range d.writes {
		if w.Pin == pin {
			out = append(out, w.Level)
		}
	}
	return out
}

// PWM returns the range, frequency and duty cycle last set on pin.
func (d *SimDaemon) PWM(pin int) (rng, hz, duty int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.pwm[pin]
	return p[0], p[1], p[2]
}

// OpenSPIDevices returns the number of SPI handles not yet closed.
func (d *SimDaemon) OpenSPIDevices() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.spiOpen)
}

type simChannel struct {
	d *SimDaemon

	mu     sync.Mutex
	closed bool
}

var errSimClosed = errors.New("channel closed")

func (c *simChannel) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errSimClosed
	}
	return nil
}

func (c *simChannel) SetPinMode(pin int, mode PinMode) error {
	if err := c.check(); err != nil {
		return err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.modes[pin] = mode
	return nil
}

func (c *simChannel) WritePin(pin int, level int) error {
	if err := c.check(); err != nil {
		return err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.d.failAfter >= 0 && len(c.d.writes) >= c.d.failAfter {
		return ErrSimInjected
	}
	if level != 0 {
		level = 1
	}
	c.d.levels[pin] = level
	c.d.writes = append(c.d.writes, PinWrite{Pin: pin, Level: level})
	return nil
}

func (c *simChannel) setPWM(pin, field, v int) error {
	if err := c.check(); err != nil {
		return err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	p := c.d.pwm[pin]
	p[field] = v
	c.d.pwm[pin] = p
	return nil
}

func (c *simChannel) SetPWMRange(pin, rng int) error      { return c.setPWM(pin, 0, rng) }
func (c *simChannel) SetPWMFrequency(pin, hz int) error   { return c.setPWM(pin, 1, hz) }
func (c *simChannel) SetPWMDutyCycle(pin, duty int) error { return c.setPWM(pin, 2, duty) }

func (c *simChannel) OpenSPI(chipSelect, speed int, flags SPIFlags) (SPIHandle, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	h := c.d.nextSPI
	c.d.nextSPI++
	c.d.spiOpen[h] = chipSelect
	return h, nil
}

func (c *simChannel) TransferSPI(h SPIHandle, out []byte) (int, []byte, error) {
	if err := c.check(); err != nil {
		return 0, nil, err
	}
	c.d.mu.Lock()
	cs, ok := c.d.spiOpen[h]
	respond := c.d.respond
	c.d.mu.Unlock()
	if !ok {
		return 0, nil, fmt.Errorf("spi handle %d not open", h)
	}
	in := make([]byte, len(out))
	if respond != nil {
		copy(in, respond(cs, out))
	}
	return len(in), in, nil
}

func (c *simChannel) CloseSPI(h SPIHandle) error {
	if err := c.check(); err != nil {
		return err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if _, ok := c.d.spiOpen[h]; !ok {
		return fmt.Errorf("spi handle %d not open", h)
	}
	delete(c.d.spiOpen, h)
	return nil
}

func (c *simChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errSimClosed
	}
	c.closed = true
	c.mu.Unlock()

	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.open--
	return nil
}
