package cartridge

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/tonerchip/i2c"
	eeprom "github.com/mklimuk/tonerchip/memory/24cxx"
	"github.com/mklimuk/tonerchip/sim"
)

type noWait struct{}

func (noWait) Wait(int) {}

var stamp = time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func bench(t *testing.T, dev *sim.EEPROM, profile *Profile) *Cartridge {
	t.Helper()
	if profile == nil {
		var err error
		profile, err = DefaultProfile()
		require.NoError(t, err)
	}
	engine := i2c.NewEngine(dev, noWait{}, i2c.WithLogger(discard()))
	client := eeprom.New(engine, eeprom.WithSleep(func(time.Duration) {}), eeprom.WithLogger(discard()))
	return New(client, profile,
		WithLogger(discard()),
		WithSleep(func(time.Duration) {}),
		WithClock(func() time.Time { return stamp }),
	)
}

func chipImage(code byte, counter uint32) Image {
	img := make(Image, Size)
	for i := range img {
		img[i] = byte(i)
	}
	img[TypeOffset] = code
	img[CounterOffset] = byte(counter >> 24)
	img[CounterOffset+1] = byte(counter >> 16)
	img[CounterOffset+2] = byte(counter >> 8)
	img[CounterOffset+3] = byte(counter)
	return img
}

func TestCartridge_Detect(t *testing.T) {
	dev := sim.NewEEPROM(sim.WithChipSelect(0x28))
	c := bench(t, dev, nil)
	slot, err := c.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, slot)
}

func TestCartridge_DetectNoChip(t *testing.T) {
	dev := sim.NewEEPROM()
	dev.SetSilent(true)
	c := bench(t, dev, nil)
	_, err := c.Detect(context.Background())
	assert.ErrorIs(t, err, ErrNoChip)
	// five probes per slot
	assert.Equal(t, 4*5, dev.Starts)
}

func TestCartridge_Inspect(t *testing.T) {
	tests := []struct {
		name     string
		code     byte
		known    bool
		mismatch bool
		typeName string
	}{
		{"matching color", 'c', true, false, "Cyan"},
		{"color from another slot", 'y', true, true, "Yellow"},
		{"unknown letter", 'x', false, false, UnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := sim.NewEEPROM(sim.WithChipSelect(0x28))
			dev.Load(0, chipImage(tt.code, 1234))
			c := bench(t, dev, nil)
			info, err := c.Inspect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, info.Slot)
			assert.Equal(t, byte(0x28), info.ChipSelect)
			assert.Equal(t, tt.known, info.Known)
			assert.Equal(t, tt.mismatch, info.SlotMismatch)
			assert.Equal(t, tt.typeName, info.Type.Name)
			assert.Equal(t, uint32(1234), info.Image.PageCount())
		})
	}
}

func TestCartridge_Restore(t *testing.T) {
	dev := sim.NewEEPROM()
	current := chipImage('k', 500)
	dev.Load(0, current)
	c := bench(t, dev, nil)
	_, err := c.Detect(context.Background())
	require.NoError(t, err)

	desired := make(Image, Size)
	copy(desired, current)
	desired[0x0A] = 0x00
	desired[0x0C] = 0x01
	desired[0x1FF] = 0x42

	written, err := c.Restore(context.Background(), current, desired)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, []byte(desired), dev.Memory())
	// one write per differing page
	assert.Equal(t, 2, dev.Writes)
}

func TestCartridge_RestoreStopsOnFailure(t *testing.T) {
	dev := sim.NewEEPROM()
	current := chipImage('k', 500)
	dev.Load(0, current)
	c := bench(t, dev, nil)
	_, err := c.Detect(context.Background())
	require.NoError(t, err)
	dev.SetSilent(true)
	starts := dev.Starts

	desired := make(Image, Size)
	copy(desired, current)
	desired[0x10] = 0xAA
	desired[0x20] = 0xAA

	written, err := c.Restore(context.Background(), current, desired)
	assert.Error(t, err)
	assert.Zero(t, written)
	assert.Equal(t, starts+1, dev.Starts)
}

func templateProfile(t *testing.T, template Image) *Profile {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, template.Save(filepath.Join(dir, "clean_c.bin")))
	require.NoError(t, template.Save(filepath.Join(dir, "clean_i.bin")))
	profile, err := DefaultProfile()
	require.NoError(t, err)
	profile.dir = dir
	for i := range profile.Types {
		switch profile.Types[i].Code {
		case "c":
			profile.Types[i].Template = "clean_c.bin"
		case "i":
			profile.Types[i].Template = "clean_i.bin"
		}
	}
	return profile
}

func TestCartridge_ResetCounterExtended(t *testing.T) {
	template := chipImage('c', 0)
	for _, off := range []int{0x58, 0x68, 0x78, 0x90, 0xA0} {
		template[off] = 0
	}
	img := chipImage('c', 9000)
	dev := sim.NewEEPROM(sim.WithChipSelect(0x28))
	dev.Load(0, img)
	c := bench(t, dev, templateProfile(t, template))
	c.client.SelectChip(0x28)

	require.NoError(t, c.ResetCounter(context.Background(), img, false))
	mem := Image(dev.Memory())
	assert.Equal(t, uint32(0), mem.PageCount())
	for _, r := range c.profile.ExtendedUpdate {
		assert.Equal(t, template[r.Offset:r.Offset+r.Size], mem[r.Offset:r.Offset+r.Size], "region %#x", r.Offset)
	}
	assert.Equal(t, 6, dev.Writes)
}

func TestCartridge_ResetCounterSimple(t *testing.T) {
	img := chipImage('i', 77)
	dev := sim.NewEEPROM()
	dev.Load(0, img)
	c := bench(t, dev, templateProfile(t, chipImage('i', 0)))
	c.client.SelectChip(0x20)

	require.NoError(t, c.ResetCounter(context.Background(), img, false))
	mem := Image(dev.Memory())
	assert.Equal(t, uint32(0), mem.PageCount())
	assert.Equal(t, 1, dev.Writes)
}

func TestCartridge_ResetCounterRefused(t *testing.T) {
	template := chipImage('c', 0)
	template[SignatureOffset] ^= 0xFF

	tests := []struct {
		name    string
		code    byte
		profile *Profile
		err     error
	}{
		{"signature mismatch", 'c', templateProfile(t, template), ErrUnsupportedChip},
		{"unknown type", 'x', templateProfile(t, template), ErrUnknownChip},
		{"no template", 'm', nil, ErrNoTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := chipImage(tt.code, 10)
			dev := sim.NewEEPROM()
			dev.Load(0, img)
			c := bench(t, dev, tt.profile)
			c.client.SelectChip(0x20)
			err := c.ResetCounter(context.Background(), img, false)
			assert.ErrorIs(t, err, tt.err)
			assert.Zero(t, dev.Writes)
			assert.Zero(t, dev.Starts)
		})
	}
}

func TestCartridge_ResetCounterForced(t *testing.T) {
	img := chipImage('m', 10)
	dev := sim.NewEEPROM()
	dev.Load(0, img)
	c := bench(t, dev, nil)
	c.client.SelectChip(0x20)

	require.NoError(t, c.ResetCounter(context.Background(), img, true))
	assert.Equal(t, uint32(0), Image(dev.Memory()).PageCount())
}

func TestCartridge_Backup(t *testing.T) {
	dev := sim.NewEEPROM()
	c := bench(t, dev, nil)
	dir := t.TempDir()
	info := &Info{Image: chipImage('k', 1), Type: ChipType{Name: "Black"}}

	path, err := c.Backup(dir, info)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Black_2024-03-09_07-05-01.bin"), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte(info.Image), b)

	_, err = c.Backup(dir, info)
	assert.ErrorContains(t, err, "already exists")
}

func TestCartridge_WatchOnce(t *testing.T) {
	dev := sim.NewEEPROM(sim.WithChipSelect(0x2C))
	c := bench(t, dev, nil)
	var found []byte
	err := c.Watch(context.Background(), true, func(cs byte) {
		found = append(found, cs)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2C}, found)
}

func TestCartridge_WatchUntilCancelled(t *testing.T) {
	dev := sim.NewEEPROM()
	c := bench(t, dev, nil)
	ctx, cancel := context.WithCancel(context.Background())
	passes := 0
	err := c.Watch(ctx, false, func(cs byte) {
		passes++
		if passes == 3 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 3, passes)
}
