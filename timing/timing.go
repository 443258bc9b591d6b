// Package timing provides the calibrated busy-wait delays used between bus
// line transitions. OS sleeps are too coarse and jittery for bit-banging, so
// Source spins on a high resolution counter and tracks a cadence baseline
// instead of sleeping.
package timing

import (
	"fmt"
	"time"

	"github.com/mklimuk/tonerchip"
)

// Delay units used by the bus engine.
const (
	Short = 1
	Norm  = 2
)

// DefaultStepsPerSecond gives a 2.5us step: 5us clock high (Norm) and 5us
// clock low (two Short waits), within 100kHz 24Cxx timing.
const DefaultStepsPerSecond = 400_000

// Counter is a monotonic tick source.
type Counter interface {
	Frequency() int64
	Ticks() int64
}

// Monotonic counts nanoseconds on the Go runtime monotonic clock.
type Monotonic struct {
	epoch time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{epoch: time.Now()}
}

func (m *Monotonic) Frequency() int64 { return int64(time.Second) }

func (m *Monotonic) Ticks() int64 { return int64(time.Since(m.epoch)) }

type Source struct {
	counter Counter
	perStep int64
	last    int64
}

func New(counter Counter) *Source {
	return &Source{counter: counter}
}

// Init computes the step length for the target rate. The counter must tick
// at least twice per step.
func (s *Source) Init(targetStepsPerSecond int64) error {
	if targetStepsPerSecond <= 0 {
		return fmt.Errorf("invalid step rate %d: %w", targetStepsPerSecond, tonerchip.ErrResolution)
	}
	freq := s.counter.Frequency()
	if freq < 2*targetStepsPerSecond {
		return fmt.Errorf("counter runs at %d Hz, need %d Hz: %w", freq, 2*targetStepsPerSecond, tonerchip.ErrResolution)
	}
	s.perStep = freq / targetStepsPerSecond
	return nil
}

// TicksPerStep returns the step length computed by Init.
func (s *Source) TicksPerStep() int64 {
	return s.perStep
}

// Start resets the baseline to the current counter value.
func (s *Source) Start() {
	s.last = s.counter.Ticks()
}

// Step spins until one step elapsed since the baseline and moves the
// baseline forward by exactly one step.
func (s *Source) Step() {
	for s.counter.Ticks()-s.last < s.perStep {
	}
	s.last += s.perStep
}

func (s *Source) Wait(steps int) {
	s.Start()
	for ; steps > 0; steps-- {
		s.Step()
	}
}
