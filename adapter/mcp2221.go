package adapter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// LevelTrace enables per report dumps. A bit-banged transfer sends several
// reports per bit, so they stay below the debug level.
const LevelTrace = slog.LevelDebug - 4

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

// HIDDevice is the report level access to an opened adapter.
type HIDDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type MCP2221 struct {
	mx           sync.Mutex
	dev          HIDDevice
	request      []byte
	response     []byte
	responseWait time.Duration
	log          *slog.Logger
}

type GPIOMode byte

const (
	GPIOModeOut         GPIOMode = 0b00000000
	GPIOModeIn          GPIOMode = 0b00001000
	GPIOModeNoOperation GPIOMode = 0xEF
)

func (m GPIOMode) String() string {
	switch m {
	case GPIOModeIn:
		return "INPUT"
	case GPIOModeOut:
		return "OUTPUT"
	default:
		return "NOOP"
	}
}

type GPIODesignation byte

// GPIOOperation turns a pin into plain GPIO. The alternate functions are not
// used for line driving.
const GPIOOperation GPIODesignation = 0b00000000

const gpioModeMask = 0b00001000
const gpioOperationMask = 0b00000111

// GPIO pin setting fields of the SRAM settings commands.
const (
	sramAlterGPIO  = 0x80
	sramSetGPIOAt  = 7
	sramGetGPIOAt  = 22
	gpioSetStride  = 4
	gpioSetAlterOn = 0x01
)

type MCP2221GPIOValues struct {
	GPIO0Mode  GPIOMode `yaml:"GP0_mode"`
	GPIO0Value byte     `yaml:"GPIO0"`
	GPIO1Mode  GPIOMode `yaml:"GP1_mode"`
	GPIO1Value byte     `yaml:"GPIO1"`
	GPIO2Mode  GPIOMode `yaml:"GP2_mode"`
	GPIO2Value byte     `yaml:"GPIO2"`
	GPIO3Mode  GPIOMode `yaml:"GP3_mode"`
	GPIO3Value byte     `yaml:"GPIO3"`
}

type MCP2221GPIOParameters struct {
	GPIO0Mode        GPIOMode        `yaml:"GP0_mode"`
	GPIO0Designation GPIODesignation `yaml:"GP0_designation"`
	GPIO1Mode        GPIOMode        `yaml:"GP1_mode"`
	GPIO1Designation GPIODesignation `yaml:"GP1_designation"`
	GPIO2Mode        GPIOMode        `yaml:"GP2_mode"`
	GPIO2Designation GPIODesignation `yaml:"GP2_designation"`
	GPIO3Mode        GPIOMode        `yaml:"GP3_mode"`
	GPIO3Designation GPIODesignation `yaml:"GP3_designation"`
}

type MCP2221Opts struct {
	ResponseWait time.Duration
	Logger       *slog.Logger
}

type MCP2221Opt func(*MCP2221Opts)

// WithResponseWait sets a pause between a command and its response read.
func WithResponseWait(wait time.Duration) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.ResponseWait = wait
	}
}

func WithLogger(logger *slog.Logger) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.Logger = logger
	}
}

// NewMCP2221 wraps an already opened HID device.
func NewMCP2221(dev HIDDevice, opts ...MCP2221Opt) *MCP2221 {
	config := MCP2221Opts{
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &MCP2221{
		dev:          dev,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: config.ResponseWait,
		log:          config.Logger,
	}
}

// ListMCP2221 enumerates the attached adapters.
func ListMCP2221() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

// OpenMCP2221 opens the adapter with the given enumeration index.
func OpenMCP2221(id int, opts ...MCP2221Opt) (*MCP2221, error) {
	devs := ListMCP2221()
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if id < 0 || id >= len(devs) {
		return nil, fmt.Errorf("no device with id %d (%d attached)", id, len(devs))
	}
	dev, err := devs[id].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return NewMCP2221(dev, opts...), nil
}

func (d *MCP2221) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.dev.Close()
}

func (d *MCP2221) SetGPIOParameters(ctx context.Context, params MCP2221GPIOParameters) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0xB1
	d.request[sramSetGPIOAt] = sramAlterGPIO
	d.request[sramSetGPIOAt+1] = byte(params.GPIO0Designation) | byte(params.GPIO0Mode)
	d.request[sramSetGPIOAt+2] = byte(params.GPIO1Designation) | byte(params.GPIO1Mode)
	d.request[sramSetGPIOAt+3] = byte(params.GPIO2Designation) | byte(params.GPIO2Mode)
	d.request[sramSetGPIOAt+4] = byte(params.GPIO3Designation) | byte(params.GPIO3Mode)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("set GP parameters command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

func (d *MCP2221) GetGPIOParameters(ctx context.Context) (MCP2221GPIOParameters, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0xB0
	d.request[1] = 0x01
	err := d.send(ctx)
	if err != nil {
		return MCP2221GPIOParameters{}, fmt.Errorf("get GP parameters command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return MCP2221GPIOParameters{}, ErrCommandUnsupported
	}
	gp := d.response[sramGetGPIOAt : sramGetGPIOAt+4]
	return MCP2221GPIOParameters{
		GPIO0Mode:        GPIOMode(gp[0] & gpioModeMask),
		GPIO0Designation: GPIODesignation(gp[0] & gpioOperationMask),
		GPIO1Mode:        GPIOMode(gp[1] & gpioModeMask),
		GPIO1Designation: GPIODesignation(gp[1] & gpioOperationMask),
		GPIO2Mode:        GPIOMode(gp[2] & gpioModeMask),
		GPIO2Designation: GPIODesignation(gp[2] & gpioOperationMask),
		GPIO3Mode:        GPIOMode(gp[3] & gpioModeMask),
		GPIO3Designation: GPIODesignation(gp[3] & gpioOperationMask),
	}, nil
}

// SetGPIOValues changes the output value of the pins flagged in alter.
// Bit n of alter and values stands for GPn.
func (d *MCP2221) SetGPIOValues(ctx context.Context, alter, values byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x50
	for pin := 0; pin < 4; pin++ {
		if alter>>pin&1 == 0 {
			continue
		}
		at := 2 + pin*gpioSetStride
		d.request[at] = gpioSetAlterOn
		d.request[at+1] = values >> pin & 1
	}
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("set GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

func (d *MCP2221) ReadGPIO(ctx context.Context) (MCP2221GPIOValues, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x51
	err := d.send(ctx)
	var res MCP2221GPIOValues
	if err != nil {
		return res, fmt.Errorf("read GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return res, ErrCommandFailed
	}
	res.GPIO0Value, res.GPIO0Mode = gpioState(d.response[2:4])
	res.GPIO1Value, res.GPIO1Mode = gpioState(d.response[4:6])
	res.GPIO2Value, res.GPIO2Mode = gpioState(d.response[6:8])
	res.GPIO3Value, res.GPIO3Mode = gpioState(d.response[8:10])
	return res, nil
}

func gpioState(b []byte) (byte, GPIOMode) {
	if b[1] == byte(GPIOModeNoOperation) || b[1] == 0xEE {
		return b[0], GPIOModeNoOperation
	}
	return b[0], GPIOMode(b[1] << 3)
}

func (d *MCP2221) send(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trace := d.log.Enabled(ctx, LevelTrace)
	if trace {
		d.log.Log(ctx, LevelTrace, "sending message to adapter", "report", hex.EncodeToString(d.request[:16]))
	}
	n, err := d.dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if d.responseWait > 0 {
		time.Sleep(d.responseWait)
	}
	n, err = d.dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to command 0x%02X carries 0x%02X", d.request[0], d.response[0])
	}
	if trace {
		d.log.Log(ctx, LevelTrace, "read message from adapter", "report", hex.EncodeToString(d.response[:16]))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	resetBuffer(d.request)
	resetBuffer(d.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}
