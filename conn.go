package pio

import (
	"context"
	"fmt"
	"log"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

const (
	// DefaultHost and DefaultPort match the pigpio daemon's defaults.
	DefaultHost = "localhost"
	DefaultPort = 8888
)

// ConnectionManager owns the single connection to the daemon and shares it
// between any number of device handles.  The connection is made lazily by the
// first Acquire and torn down when the last Handle is released; after that
// the manager can be activated again.
//
// Pass one manager to every device constructor instead of relying on global
// state.  Acquire and Release are safe to call from several goroutines.
type ConnectionManager struct {
	host string
	port int
	dial Dialer
	log  *EventLogger

	mu      sync.Mutex
	channel Channel // non-nil iff refs > 0
	refs    atomic.Int32
}

// ManagerOption customises a ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithManagerLogger sets the event logger used for connect/disconnect events.
func WithManagerLogger(l *EventLogger) ManagerOption {
	return func(m *ConnectionManager) { m.log = l }
}

// NewConnectionManager returns an inactive manager for the daemon at
// host:port.  An empty host or zero port selects the daemon defaults, and a
// nil dial selects DefaultDialer.
func NewConnectionManager(host string, port int, dial Dialer, opts ...ManagerOption) *ConnectionManager {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	if dial == nil {
		dial = DefaultDialer
	}
	m := &ConnectionManager{host: host, port: port, dial: dial}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Addr returns the daemon address in host:port form.
func (m *ConnectionManager) Addr() string {
	return net.JoinHostPort(m.host, strconv.Itoa(m.port))
}

// Active reports whether the shared channel is open.
func (m *ConnectionManager) Active() bool {
	active, _ := m.snapshot()
	return active
}

// Refs returns the number of live handles.
func (m *ConnectionManager) Refs() int {
	_, refs := m.snapshot()
	return refs
}

// snapshot reads the channel and the count under one lock, so the pair
// always satisfies active == (refs > 0).
func (m *ConnectionManager) snapshot() (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel != nil, int(m.refs.Load())
}

// Acquire returns a new Handle on the shared channel, connecting first if the
// manager is inactive.  A failed connection leaves the manager untouched and
// returns a *ConnectionError; it is not retried.
func (m *ConnectionManager) Acquire(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel == nil {
		ch, err := m.dial(ctx, m.host, m.port)
		if err != nil {
			if _, ok := err.(*ConnectionError); !ok {
				err = &ConnectionError{Addr: m.Addr(), Err: err}
			}
			m.log.Log("connect %s failed: %v", m.Addr(), err)
			return nil, err
		}
		m.channel = ch
		m.log.Log("connected to %s", m.Addr())
	}
	m.refs.Add(1)

	h := &Handle{mgr: m, ch: m.channel}
	runtime.SetFinalizer(h, finalizeHandle)
	return h, nil
}

// With acquires a handle, runs fn, and releases the handle on every exit
// path, including a panic inside fn.
func (m *ConnectionManager) With(ctx context.Context, fn func(*Handle) error) (err error) {
	h, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(); err == nil {
			err = rerr
		}
	}()
	return fn(h)
}

func (m *ConnectionManager) release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs.Load() <= 0 {
		panic(&ProtocolViolation{Op: "release", Reason: "no live handles"})
	}
	if m.refs.Add(-1) > 0 {
		return nil
	}
	ch := m.channel
	m.channel = nil
	err := ch.Close()
	if err != nil {
		m.log.Log("disconnect %s: %v", m.Addr(), err)
		return fmt.Errorf("disconnect %s: %w", m.Addr(), err)
	}
	m.log.Log("disconnected from %s", m.Addr())
	return nil
}

// Handle is one logical device's claim on the shared connection.  It must be
// released exactly once.  Prefer ConnectionManager.With, or a deferred
// Release right after a successful Acquire.
type Handle struct {
	mgr    *ConnectionManager
	ch     Channel
	closed atomic.Bool
}

// Release gives the claim back to the manager and closes the shared channel
// if this was the last handle.  Releasing a handle twice is a programming
// error and panics with a *ProtocolViolation.
func (h *Handle) Release() error {
	if !h.closed.CompareAndSwap(false, true) {
		panic(&ProtocolViolation{Op: "release", Reason: "handle released twice"})
	}
	runtime.SetFinalizer(h, nil)
	return h.mgr.release()
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	return h.closed.Load()
}

// finalizeHandle catches handles dropped without Release.  The leak is
// reported and the reference given back so the daemon connection can still
// close.
func finalizeHandle(h *Handle) {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	m := h.mgr
	m.warn("%s: %v", m.Addr(), &ProtocolViolation{Op: "discard", Reason: "handle dropped without Release"})
	if err := m.release(); err != nil {
		m.warn("%s: release of discarded handle: %v", m.Addr(), err)
	}
}

// warn always reaches the standard logger.  The event log gets a copy when
// it writes to a file of its own.
func (m *ConnectionManager) warn(format string, args ...any) {
	log.Printf(format, args...)
	if m.log != nil && m.log.filePath != "" {
		m.log.Log(format, args...)
	}
}

func (h *Handle) channel(op, target string) (Channel, error) {
	if h.closed.Load() {
		return nil, &TransportError{Op: op, Target: target, Err: ErrHandleReleased}
	}
	return h.ch, nil
}

func pinTarget(pin int) string { return "GPIO" + strconv.Itoa(pin) }

func wrapTransport(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Target: target, Err: err}
}

// SetPinMode sets the direction of pin.
func (h *Handle) SetPinMode(pin int, mode PinMode) error {
	ch, err := h.channel("set mode", pinTarget(pin))
	if err != nil {
		return err
	}
	return wrapTransport("set mode", pinTarget(pin), ch.SetPinMode(pin, mode))
}

// WritePin drives pin high (non-zero level) or low.
func (h *Handle) WritePin(pin int, level int) error {
	ch, err := h.channel("write", pinTarget(pin))
	if err != nil {
		return err
	}
	return wrapTransport("write", pinTarget(pin), ch.WritePin(pin, level))
}

// SetPWMRange sets the duty cycle range of pin.
func (h *Handle) SetPWMRange(pin, rng int) error {
	ch, err := h.channel("pwm range", pinTarget(pin))
	if err != nil {
		return err
	}
	return wrapTransport("pwm range", pinTarget(pin), ch.SetPWMRange(pin, rng))
}

// SetPWMFrequency sets the PWM frequency of pin in Hz.
func (h *Handle) SetPWMFrequency(pin, hz int) error {
	ch, err := h.channel("pwm frequency", pinTarget(pin))
	if err != nil {
		return err
	}
	return wrapTransport("pwm frequency", pinTarget(pin), ch.SetPWMFrequency(pin, hz))
}

// SetPWMDutyCycle starts PWM on pin; 0 switches it off.
func (h *Handle) SetPWMDutyCycle(pin, duty int) error {
	ch, err := h.channel("pwm duty", pinTarget(pin))
	if err != nil {
		return err
	}
	return wrapTransport("pwm duty", pinTarget(pin), ch.SetPWMDutyCycle(pin, duty))
}

// OpenSPI opens an SPI device on the shared channel.
func (h *Handle) OpenSPI(chipSelect, speed int, flags SPIFlags) (SPIHandle, error) {
	target := "CE" + strconv.Itoa(chipSelect)
	ch, err := h.channel("spi open", target)
	if err != nil {
		return 0, err
	}
	sh, err := ch.OpenSPI(chipSelect, speed, flags)
	return sh, wrapTransport("spi open", target, err)
}

// TransferSPI clocks out and returns the count and bytes read back.
func (h *Handle) TransferSPI(sh SPIHandle, out []byte) (int, []byte, error) {
	target := "spi" + strconv.Itoa(int(sh))
	ch, err := h.channel("spi transfer", target)
	if err != nil {
		return 0, nil, err
	}
	n, in, err := ch.TransferSPI(sh, out)
	return n, in, wrapTransport("spi transfer", target, err)
}

// CloseSPI closes an SPI device opened with OpenSPI.
func (h *Handle) CloseSPI(sh SPIHandle) error {
	target := "spi" + strconv.Itoa(int(sh))
	ch, err := h.channel("spi close", target)
	if err != nil {
		return err
	}
	return wrapTransport("spi close", target, ch.CloseSPI(sh))
}
