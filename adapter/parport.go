package adapter

import (
	"errors"
	"fmt"

	"github.com/mklimuk/tonerchip"
)

var _ tonerchip.LineDriver = &ParallelPort{}
var _ tonerchip.PortBinder = &ParallelPort{}

var ErrUnsupportedPlatform = errors.New("direct port access is not supported on this platform")

// Legacy parallel port register blocks.
const (
	LPT1 uint16 = 0x378
	LPT2 uint16 = 0x278
	LPT3 uint16 = 0x3BC
)

// Control register bits. Data is /INIT (pin 16), clock is /SELIN (pin 17)
// which the port inverts.
const (
	controlData  = 0x04
	controlClock = 0x08
)

// LPT returns the base address of parallel port n (1 to 3).
func LPT(n int) (uint16, error) {
	switch n {
	case 1:
		return LPT1, nil
	case 2:
		return LPT2, nil
	case 3:
		return LPT3, nil
	}
	return 0, fmt.Errorf("invalid port number %d", n)
}

// PortIO reads and writes single I/O port registers.
type PortIO interface {
	Out(addr uint16, value byte) error
	In(addr uint16) (byte, error)
}

// ParallelPort bit-bangs the bus on the control register of a parallel port.
// Both lines live in the same register, so SetLines is a single write.
type ParallelPort struct {
	io      PortIO
	control uint16
	err     error
}

// NewParallelPort returns a port bound to LPT1 registers. Bind must still be
// called to initialise the registers.
func NewParallelPort(io PortIO) *ParallelPort {
	return &ParallelPort{io: io, control: LPT1 + 2}
}

// Bind selects the register block at base and drives all three registers high.
func (p *ParallelPort) Bind(base uint16) error {
	for i := uint16(0); i < 3; i++ {
		if err := p.io.Out(base+i, 0xFF); err != nil {
			return fmt.Errorf("could not initialise port 0x%03x: %w", base+i, err)
		}
	}
	p.control = base + 2
	p.err = nil
	return nil
}

func controlBits(clock, data bool) byte {
	var b byte
	if data {
		b |= controlData
	}
	if !clock {
		b |= controlClock
	}
	return b
}

func (p *ParallelPort) SetLines(clock, data bool) {
	if p.err != nil {
		return
	}
	err := p.io.Out(p.control, controlBits(clock, data))
	if err != nil {
		p.err = fmt.Errorf("write control register: %w", err)
	}
}

func (p *ParallelPort) AckLine() bool {
	if p.err != nil {
		return true
	}
	v, err := p.io.In(p.control)
	if err != nil {
		p.err = fmt.Errorf("read control register: %w", err)
		return true
	}
	return v&controlData != 0
}

func (p *ParallelPort) Err() error {
	return p.err
}
