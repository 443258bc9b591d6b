package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/tonerchip"
	"github.com/mklimuk/tonerchip/adapter"
	"github.com/mklimuk/tonerchip/cartridge"
	"github.com/mklimuk/tonerchip/cmd/tonerchip/console"
	"github.com/mklimuk/tonerchip/config"
	"github.com/mklimuk/tonerchip/gpio"
	"github.com/mklimuk/tonerchip/i2c"
	eeprom "github.com/mklimuk/tonerchip/memory/24cxx"
	"github.com/mklimuk/tonerchip/sim"
	"github.com/mklimuk/tonerchip/timing"
)

// session is one opened line driver with the protocol stack on top.
type session struct {
	settings  config.Settings
	profile   *cartridge.Profile
	client    *eeprom.Client
	cartridge *cartridge.Cartridge
	closers   []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("could not release adapter", "error", err)
		}
	}
}

func openSession(c *cli.Context) (*session, error) {
	st := settings(c)
	if err := st.Validate(); err != nil {
		return nil, console.Exit(console.ExitUsage, "%v", err)
	}
	profile, err := cartridge.LoadProfile(st.Profile)
	if err != nil {
		return nil, console.Exit(console.ExitUsage, "%v", err)
	}
	src := timing.New(timing.NewMonotonic())
	if err := src.Init(st.Rate); err != nil {
		return nil, console.Exit(console.ExitUsage, "%v", err)
	}
	s := &session{settings: st, profile: profile}
	lines, err := s.openLines(c.Context)
	if err != nil {
		s.Close()
		return nil, console.Exit(console.ExitFailure, "could not open %s adapter: %v", st.Adapter, err)
	}
	slog.Debug("bus ready", "adapter", st.Adapter, "ticks_per_step", src.TicksPerStep())
	engine := i2c.NewEngine(lines, src)
	s.client = eeprom.New(engine)
	s.cartridge = cartridge.New(s.client, profile)
	return s, nil
}

func (s *session) openLines(ctx context.Context) (tonerchip.LineDriver, error) {
	switch s.settings.Adapter {
	case config.AdapterParport:
		io, err := adapter.OpenDevPort()
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, io.Close)
		base, err := adapter.LPT(s.settings.Port)
		if err != nil {
			return nil, err
		}
		port := adapter.NewParallelPort(io)
		if err := port.Bind(base); err != nil {
			return nil, err
		}
		console.Infof("accessing cartridge chip via port LPT%d", s.settings.Port)
		return port, nil
	case config.AdapterSerial:
		lines, port, err := adapter.OpenSerialLines(s.settings.Device)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, port.Close)
		return lines, nil
	case config.AdapterMCP2221:
		id := 0
		if s.settings.Device != "" {
			var err error
			id, err = strconv.Atoi(s.settings.Device)
			if err != nil {
				return nil, fmt.Errorf("MCP2221 device must be an index: %w", err)
			}
		}
		dev, err := adapter.OpenMCP2221(id)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, dev.Close)
		return adapter.NewMCP2221Lines(ctx, dev)
	case config.AdapterPeriph:
		pins, err := gpio.ParsePins(s.settings.Pins)
		if err != nil {
			return nil, err
		}
		return gpio.OpenPeriph(pins)
	case config.AdapterGobot:
		pins, err := gpio.ParsePins(s.settings.Pins)
		if err != nil {
			return nil, err
		}
		lines, err := gpio.OpenNanoPi(pins)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, lines.Close)
		return lines, nil
	case config.AdapterSim:
		dev := sim.NewEEPROM(sim.WithChipSelect(s.profile.ChipSelect(0)))
		if s.settings.Device != "" {
			img, err := cartridge.ReadImage(s.settings.Device)
			if err != nil {
				return nil, err
			}
			dev.Load(0, img)
		}
		console.Warnf("using a simulated chip, nothing is written to hardware")
		return dev, nil
	}
	return nil, fmt.Errorf("unknown adapter %q", s.settings.Adapter)
}

// withSession opens the bus around a command action.
func withSession(action func(c *cli.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		return action(c, s)
	}
}
