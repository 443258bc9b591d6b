package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/tonerchip/config"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := newApp()
	err := app.Run(args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			return exerr.ExitCode()
		}
		_, _ = fmt.Fprintln(app.ErrWriter, err)
		return 1
	}
	return 0
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "tonerchip"
	app.EnableBashCompletion = true
	app.Version = config.Version
	app.Usage = "read, back up and reset printer cartridge chips over a bit-banged two-wire bus"
	app.ErrWriter = os.Stderr
	defaults := config.Default()
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "adapter",
			Aliases: []string{"a"},
			Usage:   fmt.Sprintf("line driver, one of %v", config.Adapters),
			Value:   defaults.Adapter,
			EnvVars: []string{"TONERCHIP_ADAPTER"},
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "parallel port number (1: 0x378, 2: 0x278, 3: 0x3BC)",
			Value:   defaults.Port,
		},
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"d"},
			Usage:   "serial port name, MCP2221 index or image file for the simulated chip",
			EnvVars: []string{"TONERCHIP_DEVICE"},
		},
		&cli.StringFlag{
			Name:  "pins",
			Usage: "clock,data,ack pin names for the periph and gobot adapters",
			Value: defaults.Pins,
		},
		&cli.Int64Flag{
			Name:  "rate",
			Usage: "bus timing steps per second",
			Value: defaults.Rate,
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "chip profile file (defaults to the built in profile)",
			EnvVars: []string{"TONERCHIP_CONFIG"},
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
			charm.SetReportCaller(true)
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.Commands = cli.Commands{
		wiringCmd,
		infoCmd,
		backupCmd,
		restoreCmd,
		zeroCmd,
		scanCmd,
		portsCmd,
	}
	return app
}

func settings(c *cli.Context) config.Settings {
	return config.Settings{
		Adapter: c.String("adapter"),
		Port:    c.Int("port"),
		Device:  c.String("device"),
		Pins:    c.String("pins"),
		Rate:    c.Int64("rate"),
		Profile: c.String("config"),
	}
}
