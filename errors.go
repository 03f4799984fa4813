package pio

import (
	"errors"
	"fmt"
)

// Sentinel errors.  Every typed error below matches exactly one of these
// through errors.Is, so callers can branch on the kind without a type switch.
var (
	ErrUnreachable = errors.New("pigpio daemon unreachable")
	ErrConfig      = errors.New("invalid configuration")
	ErrTransport   = errors.New("transport failure")
	ErrProtocol    = errors.New("protocol violation")

	// ErrHandleReleased is returned by Handle operations after Release.
	ErrHandleReleased = errors.New("handle already released")
	// ErrWorkerStopped is returned by Submit once a stop has been requested.
	ErrWorkerStopped = errors.New("worker stopped")
	// ErrNotReady is returned by Submit while a command is still queued or running.
	ErrNotReady = &ProtocolViolation{Op: "submit", Reason: "worker is not ready"}
)

// ConnectionError reports a failed attempt to reach the daemon.  It is never
// retried automatically.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot connect to pigpio daemon at %s", e.Addr)
	}
	return fmt.Sprintf("cannot connect to pigpio daemon at %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrUnreachable }

// ConfigError reports a bad construction parameter.  It is always returned
// before any transport I/O has happened.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// TransportError wraps a failed channel call made after the connection was
// established.  Target names the pin or SPI handle involved.
type TransportError struct {
	Op     string
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolViolation is a programming error: releasing a handle twice,
// submitting out of turn, and similar misuse.  Release panics with it.
type ProtocolViolation struct {
	Op     string
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation in %s: %s", e.Op, e.Reason)
}

func (e *ProtocolViolation) Is(target error) bool { return target == ErrProtocol }

func configErr(field string, value any, reason string) error {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}
