// Package sim models a 24Cxx style serial EEPROM at the line level. The model
// implements tonerchip.LineDriver, so the bus engine can be exercised without
// hardware: it decodes start/stop conditions and clock edges from SetLines
// calls and pulls the input line low to acknowledge or to shift data out.
package sim

import (
	"github.com/mklimuk/tonerchip"
)

var _ tonerchip.LineDriver = &EEPROM{}

type state int

const (
	stIdle state = iota
	stControl
	stAddress
	stWrite
	stAck
	stRead
	stReadAck
)

type Opts struct {
	Size       int
	PageSize   int
	ChipSelect byte
	// WriteCycle is the number of control bytes left unacknowledged after a
	// write, modelling the internal programming time.
	WriteCycle int
	Fill       byte
}

type Opt func(*Opts)

func WithSize(size int) Opt {
	return func(o *Opts) {
		o.Size = size
	}
}

func WithPageSize(size int) Opt {
	return func(o *Opts) {
		o.PageSize = size
	}
}

func WithChipSelect(cs byte) Opt {
	return func(o *Opts) {
		o.ChipSelect = cs
	}
}

func WithWriteCycle(probes int) Opt {
	return func(o *Opts) {
		o.WriteCycle = probes
	}
}

func WithFill(b byte) Opt {
	return func(o *Opts) {
		o.Fill = b
	}
}

type pendingWrite struct {
	at    int
	value byte
}

// EEPROM is a simulated device. The zero value is not usable, use NewEEPROM.
type EEPROM struct {
	config Opts
	mem    []byte
	silent bool

	clock bool
	data  bool
	// out is the device side of the data line, true when released
	out bool

	state     state
	next      state
	shift     byte
	bits      int
	pointer   int
	masterAck bool
	pending   []pendingWrite
	busy      int

	Starts int
	Stops  int
	Writes int
}

// NewEEPROM returns a 512 byte device answering chip select 0x20 with a
// 16 byte page and a one probe write cycle.
func NewEEPROM(opts ...Opt) *EEPROM {
	config := Opts{
		Size:       512,
		PageSize:   16,
		ChipSelect: 0x20,
		WriteCycle: 1,
		Fill:       0xFF,
	}
	for _, opt := range opts {
		opt(&config)
	}
	mem := make([]byte, config.Size)
	for i := range mem {
		mem[i] = config.Fill
	}
	return &EEPROM{
		config: config,
		mem:    mem,
		clock:  true,
		data:   true,
		out:    true,
	}
}

// SetSilent makes the device ignore every control byte.
func (d *EEPROM) SetSilent(silent bool) {
	d.silent = silent
}

// Load copies data into memory at offset without bus traffic.
func (d *EEPROM) Load(offset int, data []byte) {
	copy(d.mem[offset:], data)
}

// Memory returns a copy of the device memory.
func (d *EEPROM) Memory() []byte {
	res := make([]byte, len(d.mem))
	copy(res, d.mem)
	return res
}

func (d *EEPROM) Busy() bool {
	return d.busy > 0
}

func (d *EEPROM) SetLines(clock, data bool) {
	if d.clock && !clock {
		d.clock = false
		d.falling()
	}
	if d.clock && data != d.data {
		d.data = data
		if data {
			d.stop()
		} else {
			d.start()
		}
	}
	d.data = data
	if !d.clock && clock {
		d.clock = true
		d.rising()
	}
}

// AckLine is the wired-AND of both sides of the data line.
func (d *EEPROM) AckLine() bool {
	return d.data && d.out
}

func (d *EEPROM) Err() error {
	return nil
}

func (d *EEPROM) line() bool {
	return d.AckLine()
}

func (d *EEPROM) start() {
	d.Starts++
	d.pending = d.pending[:0]
	d.state = stControl
	d.shift = 0
	d.bits = 0
	d.out = true
}

func (d *EEPROM) stop() {
	d.Stops++
	if len(d.pending) > 0 {
		for _, w := range d.pending {
			d.mem[w.at] = w.value
		}
		d.Writes++
		d.pending = d.pending[:0]
		d.busy = d.config.WriteCycle
	}
	d.state = stIdle
	d.out = true
}

func (d *EEPROM) rising() {
	switch d.state {
	case stControl, stAddress, stWrite:
		d.shift <<= 1
		if d.line() {
			d.shift |= 1
		}
		d.bits++
	case stReadAck:
		d.masterAck = !d.line()
	}
}

func (d *EEPROM) falling() {
	switch d.state {
	case stControl:
		if d.bits == 8 {
			d.control(d.shift)
		}
	case stAddress:
		if d.bits == 8 {
			d.pointer = (d.pointer | int(d.shift)) % d.config.Size
			d.ack(stWrite)
		}
	case stWrite:
		if d.bits == 8 {
			d.pending = append(d.pending, pendingWrite{at: d.pointer, value: d.shift})
			d.pointer = d.nextInPage(d.pointer)
			d.ack(stWrite)
		}
	case stAck:
		d.out = true
		d.state = d.next
		d.shift = 0
		d.bits = 0
		if d.state == stRead {
			d.out = d.mem[d.pointer]&0x80 != 0
		}
	case stRead:
		d.bits++
		if d.bits == 8 {
			d.out = true
			d.pointer = (d.pointer + 1) % d.config.Size
			d.state = stReadAck
			return
		}
		d.out = d.mem[d.pointer]>>(7-d.bits)&1 == 1
	case stReadAck:
		if !d.masterAck {
			d.state = stIdle
			return
		}
		d.state = stRead
		d.bits = 0
		d.out = d.mem[d.pointer]&0x80 != 0
	}
}

func (d *EEPROM) control(ctl byte) {
	highBits := byte((d.config.Size-1)>>7) & 0x0E
	ignore := highBits | 0x01
	if d.silent || ctl&^ignore != (0x80|d.config.ChipSelect)&^ignore {
		d.state = stIdle
		return
	}
	if d.busy > 0 {
		d.busy--
		d.state = stIdle
		return
	}
	if ctl&0x01 == 0x01 {
		d.ack(stRead)
		return
	}
	d.pointer = int(ctl&highBits) << 7
	d.ack(stAddress)
}

func (d *EEPROM) ack(next state) {
	d.out = false
	d.state = stAck
	d.next = next
}

func (d *EEPROM) nextInPage(p int) int {
	page := d.config.PageSize
	return p - p%page + (p+1)%page
}
