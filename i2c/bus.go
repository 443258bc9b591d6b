// Package i2c implements a software two-wire bus master. Every line
// transition is followed by a calibrated wait, so transfers block for their
// full duration and must not be interrupted halfway.
package i2c

import (
	"log/slog"

	"github.com/mklimuk/tonerchip"
	"github.com/mklimuk/tonerchip/timing"
)

const busFreeAttempts = 10

// Timer waits a number of timing steps.
type Timer interface {
	Wait(steps int)
}

type EngineOpts struct {
	Logger *slog.Logger
}

type EngineOpt func(*EngineOpts)

func WithLogger(logger *slog.Logger) EngineOpt {
	return func(o *EngineOpts) {
		o.Logger = logger
	}
}

// Engine drives start/stop conditions and bit/byte transfers over a LineDriver.
// It holds no lock; callers serialize access.
type Engine struct {
	lines tonerchip.LineDriver
	timer Timer
	log   *slog.Logger
}

func NewEngine(lines tonerchip.LineDriver, timer Timer, opts ...EngineOpt) *Engine {
	config := EngineOpts{
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Engine{lines: lines, timer: timer, log: config.Logger}
}

func (e *Engine) set(clock, data bool, steps int) {
	e.lines.SetLines(clock, data)
	e.timer.Wait(steps)
}

// Start probes for a free bus and issues a start condition. A bus that never
// reads free is only reported: the start condition is sent anyway and the
// result tells the caller whether the bus looked free.
func (e *Engine) Start() bool {
	free := false
	for i := 0; i < busFreeAttempts; i++ {
		e.set(false, true, timing.Short)
		e.set(true, true, timing.Norm)
		if e.lines.AckLine() {
			free = true
			break
		}
	}
	if !free {
		e.log.Warn("bus not free before start condition", "attempts", busFreeAttempts)
	}
	// data falls while clock is high
	e.set(true, false, timing.Norm)
	e.set(false, false, timing.Short)
	return free
}

// Stop raises data while clock is high.
func (e *Engine) Stop() {
	e.set(false, false, timing.Short)
	e.set(true, false, timing.Norm)
	e.set(true, true, timing.Norm)
}

// SendBit puts bit on data while clock is low and pulses the clock.
func (e *Engine) SendBit(bit bool) {
	e.set(false, bit, timing.Short)
	e.set(true, bit, timing.Norm)
	e.set(false, bit, timing.Short)
}

// RecvBit releases data, pulses the clock and samples the input line while
// clock is high.
func (e *Engine) RecvBit() bool {
	e.set(false, true, timing.Short)
	e.set(true, true, timing.Norm)
	bit := e.lines.AckLine()
	e.set(false, true, timing.Short)
	return bit
}

// SendByte shifts b out MSB first and returns true when the device
// acknowledged it.
func (e *Engine) SendByte(b byte) bool {
	for i := 7; i >= 0; i-- {
		e.SendBit(b>>i&1 == 1)
	}
	return !e.RecvBit()
}

// RecvByte shifts in one byte MSB first. With masterAck an extra clock pulse
// is sent with data held low and the byte only counts when the line reads low.
func (e *Engine) RecvByte(masterAck bool) (byte, bool) {
	var b byte
	for i := 0; i < 8; i++ {
		b <<= 1
		if e.RecvBit() {
			b |= 1
		}
	}
	if masterAck && !e.ack() {
		return 0, false
	}
	return b, true
}

func (e *Engine) ack() bool {
	e.set(false, false, timing.Short)
	e.set(true, false, timing.Norm)
	low := !e.lines.AckLine()
	e.set(false, false, timing.Short)
	return low
}

// Release drives both lines high and leaves them there.
func (e *Engine) Release() {
	e.lines.SetLines(true, true)
}

func (e *Engine) Err() error {
	return e.lines.Err()
}
