// Package eeprom drives 24Cxx style two-wire serial EEPROMs over a
// bit-banged bus.
//
// Up to 10 address bits are supported: the top two bits of the memory offset
// travel inside the control byte next to the chip select, the low eight bits
// follow as a separate address byte.
//
// Example usage:
//
//	engine := i2c.NewEngine(lines, timer)
//	c := eeprom.New(engine)
//	c.SelectChip(0x20)
//	buf := make([]byte, 512)
//	n, err := c.ReadBytes(ctx, 0, buf)
//
// Transfers block for their whole duration. The context is only consulted
// before a transfer starts; a started transfer always runs to its stop
// condition, so deadlines must be set around whole calls.
package eeprom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/tonerchip"
)

// Control byte flags. Read is not the complement of write; devices expect
// exactly these values.
const (
	FlagWrite byte = 0x80
	FlagRead  byte = 0x81
)

const (
	MaxOffset = 1024

	readyProbes     = 5
	readyProbeDelay = 2 * time.Millisecond

	scanStep  = 4
	scanCount = 32
)

// ErrBusNotFree is returned when the start condition found the data line held
// low. Acknowledgements read from such a bus carry no information.
var ErrBusNotFree = fmt.Errorf("bus not free: %w", tonerchip.ErrNoResponse)

// Bus is the bit level bus master the client runs on.
type Bus interface {
	Start() bool
	Stop()
	SendBit(bit bool)
	SendByte(b byte) bool
	RecvByte(masterAck bool) (byte, bool)
	Release()
	Err() error
}

// ControlByte frames the flag, chip select and the top address bits.
func ControlByte(flag, chipSelect byte, offset uint16) byte {
	return flag | chipSelect | byte((offset>>7)&0x0E)
}

// AddressByte returns the low eight offset bits.
func AddressByte(offset uint16) byte {
	return byte(offset & 0xFF)
}

type Opts struct {
	Sleep      func(time.Duration)
	ProbeDelay time.Duration
	Logger     *slog.Logger
}

type Opt func(*Opts)

// WithSleep replaces time.Sleep for the coarse waits (charge, write polling).
func WithSleep(sleep func(time.Duration)) Opt {
	return func(o *Opts) {
		o.Sleep = sleep
	}
}

func WithProbeDelay(delay time.Duration) Opt {
	return func(o *Opts) {
		o.ProbeDelay = delay
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

// Client addresses one chip at a time on a shared bus. It is not safe for
// concurrent use.
type Client struct {
	bus        Bus
	config     Opts
	chipSelect byte
}

func New(bus Bus, opts ...Opt) *Client {
	config := Opts{
		Sleep:      time.Sleep,
		ProbeDelay: readyProbeDelay,
		Logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Client{bus: bus, config: config}
}

// SelectChip sets the chip select used by subsequent transfers.
func (c *Client) SelectChip(id byte) {
	c.chipSelect = id
}

func (c *Client) ChipSelect() byte {
	return c.chipSelect
}

// WaitUntilReady sends an empty write and checks for an acknowledgement.
// With retry it probes up to five times, ProbeDelay apart, which is the usual
// way to wait for the end of an internal write cycle.
func (c *Client) WaitUntilReady(ctx context.Context, retry bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.poll(retry)
}

// poll runs the ready probes. A completed write always gets polled, even
// when the context has been cancelled meanwhile.
func (c *Client) poll(retry bool) error {
	probes := 1
	if retry {
		probes = readyProbes
	}
	for i := 0; i < probes; i++ {
		if i > 0 {
			c.config.Sleep(c.config.ProbeDelay)
		}
		free := c.bus.Start()
		ok := c.bus.SendByte(ControlByte(FlagWrite, c.chipSelect, 0))
		c.bus.Stop()
		if err := c.bus.Err(); err != nil {
			return fmt.Errorf("ready probe: %w", err)
		}
		if !free {
			return fmt.Errorf("chip 0x%02X: %w", c.chipSelect, ErrBusNotFree)
		}
		if ok {
			return nil
		}
	}
	if retry {
		return fmt.Errorf("chip 0x%02X not ready after %d probes: %w", c.chipSelect, probes, tonerchip.ErrWriteNotReady)
	}
	return fmt.Errorf("chip 0x%02X: %w", c.chipSelect, tonerchip.ErrNoResponse)
}

// Charge holds both lines high for d so the chip can charge its supply
// capacitor from the bus.
func (c *Client) Charge(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.bus.Release()
	c.config.Sleep(d)
	return c.bus.Err()
}

// begin sends start, control and address bytes of a write framed transfer.
// The caller must stop the bus whatever the result.
func (c *Client) begin(offset uint16) error {
	free := c.bus.Start()
	if !c.bus.SendByte(ControlByte(FlagWrite, c.chipSelect, offset)) {
		return fmt.Errorf("control byte: %w", tonerchip.ErrNoResponse)
	}
	if !c.bus.SendByte(AddressByte(offset)) {
		return fmt.Errorf("address byte: %w", tonerchip.ErrNoResponse)
	}
	if !free {
		return ErrBusNotFree
	}
	return nil
}

// beginRead sets the address pointer and turns the bus around for reading.
func (c *Client) beginRead(offset uint16) error {
	err := c.begin(offset)
	if err != nil {
		return err
	}
	free := c.bus.Start()
	if !c.bus.SendByte(ControlByte(FlagRead, c.chipSelect, offset)) {
		return fmt.Errorf("read control byte: %w", tonerchip.ErrNoResponse)
	}
	if !free {
		return fmt.Errorf("repeated start: %w", ErrBusNotFree)
	}
	return nil
}

func (c *Client) check(ctx context.Context, offset uint16, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if int(offset) >= MaxOffset || int(offset)+n > MaxOffset {
		return fmt.Errorf("offset %#x length %d: %w", offset, n, tonerchip.ErrAddressRange)
	}
	return nil
}

func (c *Client) ReadByte(ctx context.Context, offset uint16) (byte, error) {
	if err := c.check(ctx, offset, 1); err != nil {
		return 0, err
	}
	err := c.beginRead(offset)
	var b byte
	if err == nil {
		b, _ = c.bus.RecvByte(false)
	}
	c.bus.Stop()
	if err != nil {
		return 0, fmt.Errorf("read byte at 0x%03X: %w", offset, err)
	}
	if err := c.bus.Err(); err != nil {
		return 0, fmt.Errorf("read byte at 0x%03X: %w", offset, err)
	}
	return b, nil
}

// WriteByte writes one byte and waits for the write cycle to complete.
func (c *Client) WriteByte(ctx context.Context, offset uint16, value byte) error {
	if err := c.check(ctx, offset, 1); err != nil {
		return err
	}
	err := c.begin(offset)
	if err == nil && !c.bus.SendByte(value) {
		err = fmt.Errorf("data byte: %w", tonerchip.ErrNoResponse)
	}
	c.bus.Stop()
	if err != nil {
		return fmt.Errorf("write byte at 0x%03X: %w", offset, err)
	}
	if err := c.bus.Err(); err != nil {
		return fmt.Errorf("write byte at 0x%03X: %w", offset, err)
	}
	return c.poll(true)
}

// ReadBytes fills buf starting at offset and returns the number of bytes
// read. Every byte after the first is preceded by a continue bit.
func (c *Client) ReadBytes(ctx context.Context, offset uint16, buf []byte) (int, error) {
	if err := c.check(ctx, offset, len(buf)); err != nil {
		return 0, err
	}
	err := c.beginRead(offset)
	n := 0
	if err == nil {
		for ; n < len(buf); n++ {
			if n > 0 {
				c.bus.SendBit(false)
			}
			b, ok := c.bus.RecvByte(false)
			if !ok {
				break
			}
			buf[n] = b
		}
	}
	c.bus.Stop()
	if err != nil {
		return 0, fmt.Errorf("read at 0x%03X: %w", offset, err)
	}
	if err := c.bus.Err(); err != nil {
		return n, fmt.Errorf("read at 0x%03X: %w", offset, err)
	}
	if n < len(buf) {
		return n, &tonerchip.PartialTransferError{Op: "read", Offset: offset, Requested: len(buf), Transferred: n}
	}
	return n, nil
}

// WritePage streams data in a single transfer and returns the number of bytes
// the device acknowledged. The device wraps at its page boundary, so data must
// fit in the page holding offset.
func (c *Client) WritePage(ctx context.Context, offset uint16, data []byte) (int, error) {
	if err := c.check(ctx, offset, len(data)); err != nil {
		return 0, err
	}
	err := c.begin(offset)
	n := 0
	if err == nil {
		for ; n < len(data); n++ {
			if !c.bus.SendByte(data[n]) {
				break
			}
		}
	}
	c.bus.Stop()
	if err != nil {
		return 0, fmt.Errorf("write page at 0x%03X: %w", offset, err)
	}
	if err := c.bus.Err(); err != nil {
		return n, fmt.Errorf("write page at 0x%03X: %w", offset, err)
	}
	if n < len(data) {
		return n, &tonerchip.PartialTransferError{Op: "write", Offset: offset, Requested: len(data), Transferred: n}
	}
	if err := c.poll(true); err != nil {
		return n, fmt.Errorf("write page at 0x%03X: %w", offset, err)
	}
	return n, nil
}

// ProbeReadAddress runs a bare read transfer against the selected chip and
// returns the byte found at the device's current address pointer.
func (c *Client) ProbeReadAddress(ctx context.Context) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	free := c.bus.Start()
	ok := c.bus.SendByte(ControlByte(FlagRead, c.chipSelect, 0))
	var b byte
	if ok && free {
		b, _ = c.bus.RecvByte(false)
	}
	c.bus.Stop()
	if !ok {
		return 0, fmt.Errorf("read probe of chip 0x%02X: %w", c.chipSelect, tonerchip.ErrNoResponse)
	}
	if !free {
		return 0, fmt.Errorf("read probe of chip 0x%02X: %w", c.chipSelect, ErrBusNotFree)
	}
	return b, c.bus.Err()
}

// Scan probes chip selects 0, 4, ... 124, charging the bus for charge before
// each probe, and returns the ones that answered. The selected chip is
// restored afterwards.
func (c *Client) Scan(ctx context.Context, charge time.Duration) ([]byte, error) {
	prev := c.chipSelect
	defer c.SelectChip(prev)
	var found []byte
	for i := 0; i < scanCount; i++ {
		cs := byte(i * scanStep)
		if err := c.Charge(ctx, charge); err != nil {
			return found, err
		}
		c.SelectChip(cs)
		err := c.WaitUntilReady(ctx, false)
		if err == nil {
			c.config.Logger.Debug("device answered", "chip", fmt.Sprintf("0x%02X", cs))
			found = append(found, cs)
			continue
		}
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		if errors.Is(err, ErrBusNotFree) {
			return found, err
		}
		if err := c.bus.Err(); err != nil {
			return found, err
		}
	}
	return found, nil
}
