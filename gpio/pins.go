// Package gpio drives the bus from single board computer pins. Both
// backends write the two outputs one at a time, lowering the clock before
// touching data and setting data before raising the clock.
package gpio

import (
	"fmt"
	"strings"
)

// Pins names the three pins used for the bus.
type Pins struct {
	Clock string
	Data  string
	Ack   string
}

// ParsePins reads a "clock,data,ack" triple.
func ParsePins(s string) (Pins, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Pins{}, fmt.Errorf("expected clock,data,ack pin names, got %q", s)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return Pins{}, fmt.Errorf("empty pin name in %q", s)
		}
	}
	return Pins{Clock: parts[0], Data: parts[1], Ack: parts[2]}, nil
}

func (p Pins) String() string {
	return p.Clock + "," + p.Data + "," + p.Ack
}

// sequence orders the writes needed to move from the current line state to
// the requested one.
type sequence struct {
	clock, data bool
}

type write struct {
	clock bool
	level bool
}

func (s *sequence) next(clock, data bool) []write {
	var res []write
	if !clock && s.clock {
		res = append(res, write{clock: true, level: false})
	}
	if data != s.data {
		res = append(res, write{clock: false, level: data})
	}
	if clock && !s.clock {
		res = append(res, write{clock: true, level: true})
	}
	s.clock, s.data = clock, data
	return res
}
