package gpio

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/tonerchip"
)

var _ tonerchip.LineDriver = &PeriphLines{}

// PeriphLines uses pins registered by periph.io host drivers.
type PeriphLines struct {
	clock gpio.PinIO
	data  gpio.PinIO
	ack   gpio.PinIO
	seq   sequence
	err   error
}

// OpenPeriph initialises the host drivers and looks the pins up by name.
func OpenPeriph(pins Pins) (*PeriphLines, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not initialize periph host: %w", err)
	}
	var res [3]gpio.PinIO
	for i, name := range []string{pins.Clock, pins.Data, pins.Ack} {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("unknown pin %q", name)
		}
		res[i] = p
	}
	return NewPeriphLines(res[0], res[1], res[2])
}

// NewPeriphLines configures the pins and releases both outputs.
func NewPeriphLines(clock, data, ack gpio.PinIO) (*PeriphLines, error) {
	l := &PeriphLines{clock: clock, data: data, ack: ack, seq: sequence{clock: true, data: true}}
	if err := clock.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("clock pin %s: %w", clock, err)
	}
	if err := data.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("data pin %s: %w", data, err)
	}
	if err := ack.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("ack pin %s: %w", ack, err)
	}
	return l, nil
}

func (l *PeriphLines) SetLines(clock, data bool) {
	if l.err != nil {
		return
	}
	for _, w := range l.seq.next(clock, data) {
		pin := l.data
		if w.clock {
			pin = l.clock
		}
		if err := pin.Out(gpio.Level(w.level)); err != nil {
			l.err = fmt.Errorf("pin %s: %w", pin, err)
			return
		}
	}
}

func (l *PeriphLines) AckLine() bool {
	return l.ack.Read() == gpio.High
}

func (l *PeriphLines) Err() error {
	return l.err
}
