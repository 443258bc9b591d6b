package gpio

import (
	"fmt"

	gobotgpio "gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/tonerchip"
)

var _ tonerchip.LineDriver = &GobotLines{}

// DigitalPins is what a gobot adaptor offers for pin access.
type DigitalPins interface {
	gobotgpio.DigitalWriter
	gobotgpio.DigitalReader
}

// GobotLines drives the bus through a gobot adaptor.
type GobotLines struct {
	pins    DigitalPins
	names   Pins
	seq     sequence
	err     error
	release func() error
}

// OpenNanoPi connects a NanoPi NEO adaptor. Pin names are header pin numbers.
func OpenNanoPi(pins Pins) (*GobotLines, error) {
	adaptor := nanopi.NewNeoAdaptor()
	if err := adaptor.Connect(); err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	l, err := NewGobotLines(adaptor, pins)
	if err != nil {
		_ = adaptor.Finalize()
		return nil, err
	}
	l.release = adaptor.Finalize
	return l, nil
}

// NewGobotLines releases both outputs.
func NewGobotLines(pins DigitalPins, names Pins) (*GobotLines, error) {
	l := &GobotLines{pins: pins, names: names, seq: sequence{clock: true, data: true}}
	for _, name := range []string{names.Clock, names.Data} {
		if err := pins.DigitalWrite(name, 1); err != nil {
			return nil, fmt.Errorf("pin %s: %w", name, err)
		}
	}
	return l, nil
}

func (l *GobotLines) SetLines(clock, data bool) {
	if l.err != nil {
		return
	}
	for _, w := range l.seq.next(clock, data) {
		name := l.names.Data
		if w.clock {
			name = l.names.Clock
		}
		var v byte
		if w.level {
			v = 1
		}
		if err := l.pins.DigitalWrite(name, v); err != nil {
			l.err = fmt.Errorf("pin %s: %w", name, err)
			return
		}
	}
}

func (l *GobotLines) AckLine() bool {
	if l.err != nil {
		return true
	}
	v, err := l.pins.DigitalRead(l.names.Ack)
	if err != nil {
		l.err = fmt.Errorf("pin %s: %w", l.names.Ack, err)
		return true
	}
	return v != 0
}

func (l *GobotLines) Err() error {
	return l.err
}

// Close finalizes the adaptor when this driver connected it.
func (l *GobotLines) Close() error {
	if l.release == nil {
		return nil
	}
	return l.release()
}
