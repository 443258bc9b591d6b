// Package cartridge reads and rewrites the identity memory of printer
// cartridge chips: it finds the chip behind one of the slot chip selects,
// identifies its color, backs it up, restores images and resets the printed
// page counter.
package cartridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mklimuk/tonerchip"
)

var ErrNoChip = errors.New("no response from the chip")
var ErrUnknownChip = errors.New("unknown chip type")
var ErrUnsupportedChip = errors.New("unsupported chip type")
var ErrNoTemplate = errors.New("no clean template for chip type")

// Client is the EEPROM access the cartridge needs.
type Client interface {
	SelectChip(id byte)
	ChipSelect() byte
	Charge(ctx context.Context, d time.Duration) error
	WaitUntilReady(ctx context.Context, retry bool) error
	ReadBytes(ctx context.Context, offset uint16, buf []byte) (int, error)
	WritePage(ctx context.Context, offset uint16, data []byte) (int, error)
	Scan(ctx context.Context, charge time.Duration) ([]byte, error)
}

type Opts struct {
	Logger *slog.Logger
	Sleep  func(time.Duration)
	Now    func() time.Time
}

type Opt func(*Opts)

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

func WithSleep(sleep func(time.Duration)) Opt {
	return func(o *Opts) {
		o.Sleep = sleep
	}
}

func WithClock(now func() time.Time) Opt {
	return func(o *Opts) {
		o.Now = now
	}
}

type Cartridge struct {
	client  Client
	profile *Profile
	config  Opts
}

func New(client Client, profile *Profile, opts ...Opt) *Cartridge {
	config := Opts{
		Logger: slog.Default(),
		Sleep:  time.Sleep,
		Now:    time.Now,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Cartridge{client: client, profile: profile, config: config}
}

// Info is what Inspect learns about the inserted chip.
type Info struct {
	Slot         int
	ChipSelect   byte
	Image        Image
	Type         ChipType
	Known        bool
	SlotMismatch bool
}

// Detect charges the chip and returns the first slot whose chip select
// acknowledges. The chip stays selected.
func (c *Cartridge) Detect(ctx context.Context) (int, error) {
	if err := c.client.Charge(ctx, c.profile.Charge.Detect); err != nil {
		return 0, fmt.Errorf("charge: %w", err)
	}
	for slot := 0; slot < c.profile.Slots; slot++ {
		cs := c.profile.ChipSelect(slot)
		c.client.SelectChip(cs)
		err := c.client.WaitUntilReady(ctx, true)
		if err == nil {
			c.config.Logger.Debug("chip detected", "slot", slot, "chip", fmt.Sprintf("0x%02X", cs))
			return slot, nil
		}
		if !errors.Is(err, tonerchip.ErrWriteNotReady) {
			return 0, fmt.Errorf("detect slot %d: %w", slot, err)
		}
	}
	return 0, ErrNoChip
}

// Dump reads the whole chip memory.
func (c *Cartridge) Dump(ctx context.Context) (Image, error) {
	img := make(Image, Size)
	n, err := c.client.ReadBytes(ctx, 0, img)
	if err != nil {
		return nil, fmt.Errorf("error reading data at offset %d: %w", n, err)
	}
	return img, nil
}

// Inspect detects, reads and identifies the chip.
func (c *Cartridge) Inspect(ctx context.Context) (*Info, error) {
	slot, err := c.Detect(ctx)
	if err != nil {
		return nil, err
	}
	img, err := c.Dump(ctx)
	if err != nil {
		return nil, err
	}
	t, known := c.profile.Identify(img)
	info := &Info{
		Slot:       slot,
		ChipSelect: c.client.ChipSelect(),
		Image:      img,
		Type:       t,
		Known:      known,
	}
	if known && t.Slot != slot {
		info.SlotMismatch = true
		c.config.Logger.Warn("color stored in cartridge doesn't match cartridge color", "type", t.Code, "slot", slot, "expected", t.Slot)
	}
	return info, nil
}

// Restore rewrites the chip so it holds desired, given that it currently
// holds current. Each page is written from its first differing byte to its
// end. The first failed page stops the restore; the number of pages written
// is returned. The chip must have been selected by Detect or Inspect.
func (c *Cartridge) Restore(ctx context.Context, current, desired Image) (int, error) {
	if len(current) != Size || len(desired) != Size {
		return 0, fmt.Errorf("restore needs two %d byte images", Size)
	}
	ps := c.profile.PageSize
	written := 0
	for page := 0; page < Size; page += ps {
		for i := 0; i < ps; i++ {
			if current[page+i] == desired[page+i] {
				continue
			}
			at := page + i
			if _, err := c.client.WritePage(ctx, uint16(at), desired[at:page+ps]); err != nil {
				return written, fmt.Errorf("error writing data at offset %d: %w", at, err)
			}
			written++
			c.config.Logger.Debug("page written", "offset", fmt.Sprintf("0x%03X", at), "size", page+ps-at)
			break
		}
	}
	return written, nil
}

// ResetCounter clears the page counter of a chip holding img. The chip
// signature must match the clean template of its type unless force is set.
// Types with the extended update flag get the extended regions copied from
// the template; the others get four zero bytes at the counter offset.
func (c *Cartridge) ResetCounter(ctx context.Context, img Image, force bool) error {
	t, known := c.profile.Identify(img)
	if !known {
		if !force {
			return fmt.Errorf("unable to reset page counter of chip %q: %w", t.Code, ErrUnknownChip)
		}
		if fb, ok := c.profile.TypeByName(c.profile.FallbackType); ok {
			c.config.Logger.Warn("unknown chip type, using fallback template", "type", t.Code, "fallback", fb.Name)
			t.Template = fb.Template
			t.Extended = false
		}
	}
	template, err := c.profile.Template(t)
	if err != nil {
		return err
	}
	switch {
	case template == nil && !force:
		return fmt.Errorf("%s: %w", t.Name, ErrNoTemplate)
	case template == nil:
		c.config.Logger.Warn("no clean template, signature not verified", "type", t.Name)
	case !bytes.Equal(img.Signature(), template.Signature()):
		if !force {
			return fmt.Errorf("%s: signature mismatch: %w", t.Name, ErrUnsupportedChip)
		}
		c.config.Logger.Warn("unsupported chip type", "type", t.Name)
	}

	if t.Extended && template != nil {
		for _, r := range c.profile.ExtendedUpdate {
			data := template[r.Offset : r.Offset+r.Size]
			if _, err := c.client.WritePage(ctx, uint16(r.Offset), data); err != nil {
				return fmt.Errorf("error writing data at offset %d: %w", r.Offset, err)
			}
		}
		return nil
	}
	zeros := make([]byte, CounterSize)
	if _, err := c.client.WritePage(ctx, CounterOffset, zeros); err != nil {
		return fmt.Errorf("error writing data at offset %d: %w", CounterOffset, err)
	}
	return nil
}

// Backup saves img under dir with a time stamped name derived from its type
// and returns the file path.
func (c *Cartridge) Backup(dir string, info *Info) (string, error) {
	path := filepath.Join(dir, BackupName(info.Type.Name, c.config.Now()))
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("backup %s already exists", path)
	}
	if err := info.Image.Save(path); err != nil {
		return "", err
	}
	return path, nil
}

// Watch scans the bus until ctx is done and reports every chip select that
// answers. With once it returns after one pass over all chip selects.
func (c *Cartridge) Watch(ctx context.Context, once bool, report func(cs byte)) error {
	for {
		found, err := c.client.Scan(ctx, c.profile.Charge.Scan)
		for _, cs := range found {
			report(cs)
			if !once {
				c.config.Sleep(c.profile.ScanPause)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if once {
			return nil
		}
	}
}
