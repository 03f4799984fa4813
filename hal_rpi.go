//go:build linux && (arm || arm64) && !disablegpio

// This file provides a Raspberry Pi implementation of the HAL using the
// periph.io library.  When cross-compiling for other platforms or when the
// build tag "disablegpio" is specified, hal_stub.go is used instead.

package pio

import (
	"context"
	"fmt"
	"net"
	"sync"

	// Use the new periph module layout.  See https://periph.io/news/2020/a_new_start/
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultDialer drives the pins of the local board.
var DefaultDialer Dialer = DialPeriph

// DialPeriph initialises periph host state and returns a Channel onto the
// local GPIO and SPI drivers.  periph only reaches the board it runs on, so
// host must resolve to a loopback address.  The port is ignored.
func DialPeriph(ctx context.Context, hostname string, port int) (Channel, error) {
	addr := net.JoinHostPort(hostname, fmt.Sprint(port))
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	if !isLoopback(hostname) {
		return nil, &ConnectionError{Addr: addr, Err: fmt.Errorf("periph backend only drives local pins")}
	}
	// host.Init can safely be called multiple times; subsequent calls are no-ops.
	if _, err := host.Init(); err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	return &periphChannel{
		pwm: make(map[int]*pwmState),
		spi: make(map[SPIHandle]*periphSPI),
	}, nil
}

func isLoopback(hostname string) bool {
	if hostname == "" || hostname == "localhost" {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// pwmState keeps the daemon-style range and frequency for a pin; periph takes
// both at once when the duty cycle is applied.
type pwmState struct {
	rng int
	hz  int
}

type periphSPI struct {
	port spi.PortCloser
	conn spi.Conn
}

type periphChannel struct {
	mu      sync.Mutex
	pwm     map[int]*pwmState
	spi     map[SPIHandle]*periphSPI
	nextSPI SPIHandle
}

func (c *periphChannel) pin(n int) (gpio.PinIO, error) {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, fmt.Errorf("no such pin GPIO%d", n)
	}
	return p, nil
}

func (c *periphChannel) SetPinMode(n int, mode PinMode) error {
	p, err := c.pin(n)
	if err != nil {
		return err
	}
	if mode == Output {
		return p.Out(gpio.Low)
	}
	return p.In(gpio.PullNoChange, gpio.NoEdge)
}

func (c *periphChannel) WritePin(n int, level int) error {
	p, err := c.pin(n)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(level != 0))
}

func (c *periphChannel) pwmFor(n int) *pwmState {
	st, ok := c.pwm[n]
	if !ok {
		// Same defaults as the pigpio daemon.
		st = &pwmState{rng: 255, hz: 800}
		c.pwm[n] = st
	}
	return st
}

func (c *periphChannel) SetPWMRange(n, rng int) error {
	if rng <= 0 {
		return fmt.Errorf("pwm range %d out of bounds", rng)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pwmFor(n).rng = rng
	return nil
}

func (c *periphChannel) SetPWMFrequency(n, hz int) error {
	if hz <= 0 {
		return fmt.Errorf("pwm frequency %d out of bounds", hz)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pwmFor(n).hz = hz
	return nil
}

func (c *periphChannel) SetPWMDutyCycle(n, duty int) error {
	p, err := c.pin(n)
	if err != nil {
		return err
	}
	c.mu.Lock()
	st := *c.pwmFor(n)
	c.mu.Unlock()
	if duty <= 0 {
		return p.Out(gpio.Low)
	}
	if duty > st.rng {
		duty = st.rng
	}
	d := gpio.Duty(int64(gpio.DutyMax) * int64(duty) / int64(st.rng))
	return p.PWM(d, physic.Frequency(st.hz)*physic.Hertz)
}

func (c *periphChannel) OpenSPI(chipSelect, speed int, flags SPIFlags) (SPIHandle, error) {
	bus := 0
	if flags&SPIAux != 0 {
		bus = 1
	}
	port, err := spireg.Open(fmt.Sprintf("SPI%d.%d", bus, chipSelect))
	if err != nil {
		return 0, err
	}
	conn, err := port.Connect(physic.Frequency(speed)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.nextSPI
	c.nextSPI++
	c.spi[h] = &periphSPI{port: port, conn: conn}
	return h, nil
}

func (c *periphChannel) TransferSPI(h SPIHandle, out []byte) (int, []byte, error) {
	c.mu.Lock()
	s, ok := c.spi[h]
	c.mu.Unlock()
	if !ok {
		return 0, nil, fmt.Errorf("spi handle %d not open", h)
	}
	in := make([]byte, len(out))
	if err := s.conn.Tx(out, in); err != nil {
		return 0, nil, err
	}
	return len(in), in, nil
}

func (c *periphChannel) CloseSPI(h SPIHandle) error {
	c.mu.Lock()
	s, ok := c.spi[h]
	delete(c.spi, h)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("spi handle %d not open", h)
	}
	return s.port.Close()
}

// Close releases any SPI ports left open.  Pin levels are left as the
// devices set them; devices drive their pins low before releasing.
func (c *periphChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for h, s := range c.spi {
		if err := s.port.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.spi, h)
	}
	return firstErr
}
