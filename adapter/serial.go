package adapter

import (
	"fmt"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/mklimuk/tonerchip"
)

var _ tonerchip.LineDriver = &SerialLines{}

// ModemLines is the part of a serial port used for line driving.
type ModemLines interface {
	SetRTS(rts bool) error
	SetDTR(dtr bool) error
	GetModemStatusBits() (*serial.ModemStatusBits, error)
}

// SerialLines drives the bus with the modem control lines of a serial port:
// RTS is the clock, DTR data and CTS the input line.
type SerialLines struct {
	port  ModemLines
	clock bool
	data  bool
	err   error
}

func NewSerialLines(port ModemLines) *SerialLines {
	return &SerialLines{port: port, clock: true, data: true}
}

// OpenSerialLines opens the named port and releases both lines.
func OpenSerialLines(name string) (*SerialLines, serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not open %s: %w", name, err)
	}
	l := NewSerialLines(port)
	l.write(true, true)
	if l.err != nil {
		_ = port.Close()
		return nil, nil, l.err
	}
	return l, port, nil
}

func (l *SerialLines) write(clock, data bool) {
	if err := l.port.SetRTS(clock); err != nil {
		l.err = fmt.Errorf("set RTS: %w", err)
		return
	}
	l.clock = clock
	if err := l.port.SetDTR(data); err != nil {
		l.err = fmt.Errorf("set DTR: %w", err)
		return
	}
	l.data = data
}

// SetLines changes the lines one by one: a falling clock goes first, a
// rising clock goes last.
func (l *SerialLines) SetLines(clock, data bool) {
	if l.err != nil {
		return
	}
	if !clock && l.clock {
		if err := l.port.SetRTS(false); err != nil {
			l.err = fmt.Errorf("set RTS: %w", err)
			return
		}
		l.clock = false
	}
	if data != l.data {
		if err := l.port.SetDTR(data); err != nil {
			l.err = fmt.Errorf("set DTR: %w", err)
			return
		}
		l.data = data
	}
	if clock && !l.clock {
		if err := l.port.SetRTS(true); err != nil {
			l.err = fmt.Errorf("set RTS: %w", err)
			return
		}
		l.clock = true
	}
}

func (l *SerialLines) AckLine() bool {
	if l.err != nil {
		return true
	}
	bits, err := l.port.GetModemStatusBits()
	if err != nil {
		l.err = fmt.Errorf("read CTS: %w", err)
		return true
	}
	return bits.CTS
}

func (l *SerialLines) Err() error {
	return l.err
}

// SerialPortInfo describes a serial port found on the system.
type SerialPortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

func ListSerialPorts() ([]SerialPortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("could not list serial ports: %w", err)
	}
	res := make([]SerialPortInfo, 0, len(ports))
	for _, p := range ports {
		res = append(res, SerialPortInfo{
			Name:    p.Name,
			USB:     p.IsUSB,
			VID:     p.VID,
			PID:     p.PID,
			Serial:  p.SerialNumber,
			Product: p.Product,
		})
	}
	return res, nil
}
