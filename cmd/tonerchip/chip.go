package main

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/tonerchip"
	"github.com/mklimuk/tonerchip/cartridge"
	"github.com/mklimuk/tonerchip/cmd/tonerchip/console"
)

var infoCmd = &cli.Command{
	Name:   "info",
	Usage:  "detect the chip and show its type and page count",
	Action: withSession(func(c *cli.Context, s *session) error {
		_, err := inspect(c, s)
		return err
	}),
}

var backupCmd = &cli.Command{
	Name:      "backup",
	Aliases:   []string{"b"},
	Usage:     "save the chip memory to a file",
	ArgsUsage: "<file>",
	Action: withSession(func(c *cli.Context, s *session) error {
		if c.NArg() != 1 {
			return console.Exit(console.ExitUsage, "expected 1 argument, got %d", c.NArg())
		}
		info, err := inspect(c, s)
		if err != nil {
			return err
		}
		path := c.Args().First()
		console.Infof("saving EEPROM to file '%s'", path)
		if err := info.Image.Save(path); err != nil {
			return console.Exit(console.ExitFailure, "%v", err)
		}
		console.PInfof(console.PictoFinish, "done")
		return nil
	}),
}

var restoreCmd = &cli.Command{
	Name:      "restore",
	Aliases:   []string{"r"},
	Usage:     "write a saved image back to the chip",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: withSession(func(c *cli.Context, s *session) error {
		if c.NArg() != 1 {
			return console.Exit(console.ExitUsage, "expected 1 argument, got %d", c.NArg())
		}
		path := c.Args().First()
		desired, err := cartridge.ReadImage(path)
		if err != nil {
			return console.Exit(console.ExitFailure, "%v", err)
		}
		info, err := inspect(c, s)
		if err != nil {
			return err
		}
		ok, err := console.Confirm("overwrite the chip with "+path+"?", c.Bool("yes"))
		if err != nil || !ok {
			console.PInfof(console.PictoStop, "restore aborted")
			return nil
		}
		console.Infof("writing EEPROM from file '%s'", path)
		written, err := s.cartridge.Restore(c.Context, info.Image, desired)
		if err != nil {
			return transferExit(err)
		}
		console.PInfof(console.PictoFinish, "done, %d pages written", written)
		return nil
	}),
}

var zeroCmd = &cli.Command{
	Name:    "zero",
	Aliases: []string{"z"},
	Usage:   "reset the page counter",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "ignore unknown chip type and signature mismatch"},
		&cli.BoolFlag{Name: "no-backup", Aliases: []string{"n"}, Usage: "do not save a backup before writing"},
		&cli.StringFlag{Name: "backup-dir", Usage: "directory for the automatic backup", Value: "."},
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: withSession(func(c *cli.Context, s *session) error {
		info, err := inspect(c, s)
		if err != nil {
			return err
		}
		if !c.Bool("no-backup") {
			path, err := s.cartridge.Backup(c.String("backup-dir"), info)
			if err != nil {
				return console.Exit(console.ExitFailure, "%v", err)
			}
			console.PInfof(console.PictoNotebook, "saved EEPROM backup to %s", path)
		}
		ok, err := console.Confirm("zero out the page counter?", c.Bool("yes"))
		if err != nil || !ok {
			console.PInfof(console.PictoStop, "counter reset aborted")
			return nil
		}
		console.Infof("zeroing out page counters")
		err = s.cartridge.ResetCounter(c.Context, info.Image, c.Bool("force"))
		switch {
		case errors.Is(err, cartridge.ErrUnknownChip), errors.Is(err, cartridge.ErrUnsupportedChip), errors.Is(err, cartridge.ErrNoTemplate):
			return console.Exit(console.ExitFailure, "%v (use --force to override)", err)
		case err != nil:
			return transferExit(err)
		}
		console.PInfof(console.PictoFinish, "done")
		return nil
	}),
}

// inspect detects and reads the chip and prints what was found.
func inspect(c *cli.Context, s *session) (*cartridge.Info, error) {
	info, err := s.cartridge.Inspect(c.Context)
	if err != nil {
		return nil, transferExit(err)
	}
	paint := console.Color(info.Type.Name)
	console.PInfof(console.PictoChip, "chip type: '%s' (%s) at 0x%02X", info.Type.Code, paint(info.Type.Name), info.ChipSelect)
	if info.SlotMismatch {
		console.Warnf("color stored in cartridge '%s' doesn't match cartridge color", info.Type.Code)
	}
	console.Infof("page count: %d", info.Image.PageCount())
	return info, nil
}

func transferExit(err error) error {
	var partial *tonerchip.PartialTransferError
	switch {
	case errors.As(err, &partial):
		return console.Exit(console.ExitFailure, "%v; the chip may hold a mix of old and new data", err)
	case errors.Is(err, cartridge.ErrNoChip), errors.Is(err, tonerchip.ErrNoResponse):
		return console.Exit(console.ExitFailure, "%v; check the wiring and the cartridge contacts", err)
	case errors.Is(err, tonerchip.ErrWriteNotReady):
		return console.Exit(console.ExitFailure, "%v; verify the chip contents", err)
	}
	return console.Exit(console.ExitFailure, "%v", err)
}
