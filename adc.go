package pio

import (
	"context"
	"errors"
)

// adcSpeed is the SPI clock used for the MCP3008, in Hz.
const adcSpeed = 50000

// ADC reads an MCP3008 analogue-to-digital converter over SPI.
//
// On the main SPI bus the chip select is CE0 (GPIO8) or CE1 (GPIO7).  The
// auxiliary bus on the A+, B+ and later boards has three: CE0 (GPIO18),
// CE1 (GPIO17) and CE2 (GPIO16).
type ADC struct {
	h   *Handle
	spi SPIHandle
}

// NewADC opens the converter on the given chip select.  Set aux to use the
// auxiliary SPI bus.
func NewADC(ctx context.Context, m *ConnectionManager, chipSelect int, aux bool) (*ADC, error) {
	var flags SPIFlags
	if aux {
		flags = SPIAux
		if chipSelect < 0 || chipSelect > 2 {
			return nil, configErr("chip select", chipSelect, "must be 0 (CE0), 1 (CE1) or 2 (CE2)")
		}
	} else if chipSelect < 0 || chipSelect > 1 {
		return nil, configErr("chip select", chipSelect, "must be 0 (CE0) or 1 (CE1)")
	}

	h, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	sh, err := h.OpenSPI(chipSelect, adcSpeed, flags)
	if err != nil {
		return nil, errors.Join(err, h.Release())
	}
	return &ADC{h: h, spi: sh}, nil
}

// Read samples one single-ended channel (0-7, chip pins 1-8) and returns the
// 10-bit result.
func (a *ADC) Read(channel int) (int, error) {
	if channel < 0 || channel > 7 {
		return 0, configErr("channel", channel, "must be 0 - 7")
	}
	// Byte 0 holds the start bit, byte 1 the single-ended flag and the
	// channel number, byte 2 is don't-care.  The reply carries the top two
	// result bits in byte 1 and the low eight in byte 2.
	n, in, err := a.h.TransferSPI(a.spi, []byte{1, byte(8+channel) << 4, 0})
	if err != nil {
		return 0, err
	}
	if n < 3 || len(in) < 3 {
		return 0, nil
	}
	return int(in[1]&0x03)<<8 | int(in[2]), nil
}

// Close closes the SPI device and releases the handle.
func (a *ADC) Close() error {
	err := a.h.CloseSPI(a.spi)
	return errors.Join(err, a.h.Release())
}
