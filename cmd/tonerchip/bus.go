package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/tonerchip/adapter"
	"github.com/mklimuk/tonerchip/cmd/tonerchip/console"
	"github.com/mklimuk/tonerchip/config"
	"github.com/mklimuk/tonerchip/gpio"
)

var scanCmd = &cli.Command{
	Name:    "scan",
	Aliases: []string{"s"},
	Usage:   "probe all chip selects until interrupted",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "once", Usage: "stop after one pass"},
	},
	Action: withSession(func(c *cli.Context, s *session) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		once := c.Bool("once")
		if !once {
			console.PInfof(console.PictoSearch, "scanning for devices... press Ctrl-C to abort")
		}
		found := 0
		err := s.cartridge.Watch(ctx, once, func(cs byte) {
			found++
			console.Infof("detected device at ID 0x%02X", cs)
		})
		if err != nil {
			return transferExit(err)
		}
		if once && found == 0 {
			console.Warnf("no device answered")
		}
		return nil
	}),
}

var portsCmd = &cli.Command{
	Name:  "ports",
	Usage: "list serial ports and MCP2221 adapters",
	Action: func(c *cli.Context) error {
		w := tabwriter.NewWriter(console.Writer(), 16, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "ADAPTER\tDEVICE\tVENDOR\tPRODUCT ID\tSERIAL\tPRODUCT\n")
		ports, err := adapter.ListSerialPorts()
		if err != nil {
			console.Warnf("%v", err)
		}
		for _, p := range ports {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", config.AdapterSerial, p.Name, p.VID, p.PID, p.Serial, p.Product)
		}
		for i, dev := range adapter.ListMCP2221() {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%#x\t%#x\t%s\t%s\n", config.AdapterMCP2221, i, dev.VendorID, dev.ProductID, dev.Serial, dev.Product)
		}
		return w.Flush()
	},
}

const parportWiring = `
 +--------------------------------------------------------+
 |       / \                                 .            |
 |       \ /               +---------------+            O +
 |                         | [D]  [G]  [C] |             /
 +------------------------------------------------------+

        D = Data   = LPT pin 16 (/INIT)
        C = Clock  = LPT pin 17 (/SELIN)
        G = Ground = LPT pins 20-25
`

var wiringCmd = &cli.Command{
	Name:  "wiring",
	Usage: "show how to connect the chip contacts to the selected adapter",
	Action: func(c *cli.Context) error {
		st := settings(c)
		if err := st.Validate(); err != nil {
			return console.Exit(console.ExitUsage, "%v", err)
		}
		switch st.Adapter {
		case config.AdapterParport:
			console.Print(parportWiring)
		case config.AdapterSerial:
			console.PInfof(console.PictoPin, "clock: RTS, data: DTR, ack: CTS (data tied to CTS), ground: GND")
		case config.AdapterMCP2221:
			console.PInfof(console.PictoPin, "clock: GP0, data: GP1, ack: GP2 (data tied to GP2), ground: GND")
		case config.AdapterPeriph, config.AdapterGobot:
			pins, err := gpio.ParsePins(st.Pins)
			if err != nil {
				return console.Exit(console.ExitUsage, "%v", err)
			}
			console.PInfof(console.PictoPin, "clock: %s, data: %s, ack: %s (data tied to ack), ground: GND", pins.Clock, pins.Data, pins.Ack)
		case config.AdapterSim:
			console.PInfof(console.PictoPin, "the simulated chip needs no wiring")
		}
		return nil
	},
}
