package adapter

import (
	"context"
	"fmt"

	"github.com/mklimuk/tonerchip"
)

var _ tonerchip.LineDriver = &MCP2221Lines{}

const (
	gpClock = 1 << 0
	gpData  = 1 << 1
)

// MCP2221Lines drives the bus from the adapter GPIO pins: GP0 is the clock,
// GP1 data and GP2 the input line. Both outputs change in one report.
type MCP2221Lines struct {
	dev *MCP2221
	ctx context.Context
	err error
}

// NewMCP2221Lines configures the pins and releases both lines.
func NewMCP2221Lines(ctx context.Context, dev *MCP2221) (*MCP2221Lines, error) {
	err := dev.SetGPIOParameters(ctx, MCP2221GPIOParameters{
		GPIO0Mode:        GPIOModeOut,
		GPIO0Designation: GPIOOperation,
		GPIO1Mode:        GPIOModeOut,
		GPIO1Designation: GPIOOperation,
		GPIO2Mode:        GPIOModeIn,
		GPIO2Designation: GPIOOperation,
		GPIO3Mode:        GPIOModeIn,
		GPIO3Designation: GPIOOperation,
	})
	if err != nil {
		return nil, fmt.Errorf("could not configure GPIO pins: %w", err)
	}
	l := &MCP2221Lines{dev: dev, ctx: ctx}
	l.SetLines(true, true)
	return l, l.err
}

func (l *MCP2221Lines) SetLines(clock, data bool) {
	if l.err != nil {
		return
	}
	var values byte
	if clock {
		values |= gpClock
	}
	if data {
		values |= gpData
	}
	err := l.dev.SetGPIOValues(l.ctx, gpClock|gpData, values)
	if err != nil {
		l.err = fmt.Errorf("set lines: %w", err)
	}
}

func (l *MCP2221Lines) AckLine() bool {
	if l.err != nil {
		return true
	}
	res, err := l.dev.ReadGPIO(l.ctx)
	if err != nil {
		l.err = fmt.Errorf("read ack line: %w", err)
		return true
	}
	return res.GPIO2Value != 0
}

func (l *MCP2221Lines) Err() error {
	return l.err
}
