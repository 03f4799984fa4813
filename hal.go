package pio

// This file defines the hardware abstraction layer (HAL) used by every device.
// A Channel is one open connection to the pin-control daemon.  The package
// never talks to hardware directly: devices go through a Handle, and the
// Handle goes through the Channel owned by the ConnectionManager.
//
// Two backends ship with the package.  hal_rpi.go drives the local pins via
// periph.io and is only built on a Raspberry Pi.  On every other platform
// (or with the "disablegpio" build tag) hal_stub.go makes DefaultDialer return
// simulator channels, so you can run and test the programs on a desktop.

import (
	"context"
	"fmt"
)

// PinMode selects the direction of a GPIO pin.
type PinMode int

const (
	Input PinMode = iota
	Output
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("PinMode(%d)", int(m))
	}
}

// SPIFlags mirrors the daemon's spi_open flag word.  Only the auxiliary bus
// bit is interpreted by the bundled backends.
type SPIFlags uint32

// SPIAux selects the auxiliary SPI bus (SPI1 on the Pi 2 and later).
const SPIAux SPIFlags = 0x100

// SPIHandle identifies an open SPI device on a Channel.
type SPIHandle int

// Channel is the narrow capability surface the core needs from the daemon.
// Implementations must be safe for concurrent use: several devices, each on
// its own goroutine, share one Channel.
type Channel interface {
	SetPinMode(pin int, mode PinMode) error
	WritePin(pin int, level int) error
	SetPWMRange(pin, rng int) error
	SetPWMFrequency(pin, hz int) error
	SetPWMDutyCycle(pin, duty int) error
	OpenSPI(chipSelect, speed int, flags SPIFlags) (SPIHandle, error)
	// TransferSPI writes out and returns the byte count and bytes clocked in.
	TransferSPI(h SPIHandle, out []byte) (int, []byte, error)
	CloseSPI(h SPIHandle) error
	// Close disconnects from the daemon.
	Close() error
}

// Dialer opens a Channel to the daemon at host:port.
type Dialer func(ctx context.Context, host string, port int) (Channel, error)

// maxPin is the highest BCM GPIO number on a Pi header.
const maxPin = 53

func validPin(pin int) bool { return pin >= 0 && pin <= maxPin }
