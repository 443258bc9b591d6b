// Package config holds the build version and the runtime settings of the
// command line tool.
package config

import (
	"fmt"
	"slices"

	"github.com/mklimuk/tonerchip/timing"
)

// Version is set at build time.
var Version = "latest"

const (
	AdapterParport = "parport"
	AdapterSerial  = "serial"
	AdapterMCP2221 = "mcp2221"
	AdapterPeriph  = "periph"
	AdapterGobot   = "gobot"
	AdapterSim     = "sim"
)

var Adapters = []string{AdapterParport, AdapterSerial, AdapterMCP2221, AdapterPeriph, AdapterGobot, AdapterSim}

const DefaultPins = "GPIO17,GPIO27,GPIO22"

// Settings selects the line backend and bus timing.
type Settings struct {
	Adapter string
	// Port is the parallel port number, 1 to 3.
	Port int
	// Device is the serial port name, the MCP2221 index or the image file
	// loaded into the simulated chip.
	Device  string
	Pins    string
	Rate    int64
	Profile string
}

func Default() Settings {
	return Settings{
		Adapter: AdapterParport,
		Port:    1,
		Pins:    DefaultPins,
		Rate:    timing.DefaultStepsPerSecond,
	}
}

func (s Settings) Validate() error {
	if !slices.Contains(Adapters, s.Adapter) {
		return fmt.Errorf("unknown adapter %q, expected one of %v", s.Adapter, Adapters)
	}
	if s.Adapter == AdapterParport && (s.Port < 1 || s.Port > 3) {
		return fmt.Errorf("invalid port number %d", s.Port)
	}
	if s.Adapter == AdapterSerial && s.Device == "" {
		return fmt.Errorf("serial adapter needs a device name")
	}
	if s.Rate <= 0 {
		return fmt.Errorf("invalid step rate %d", s.Rate)
	}
	return nil
}
