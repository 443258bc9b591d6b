package cartridge

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// Memory map of the cartridge chip.
const (
	Size            = 512
	TypeOffset      = 0x28
	CounterOffset   = 0x88
	CounterSize     = 4
	SignatureOffset = 0xF0
	SignatureSize   = 16
)

// Image is a full copy of the chip memory.
type Image []byte

func ParseImage(b []byte) (Image, error) {
	if len(b) != Size {
		return nil, fmt.Errorf("image must be %d bytes, got %d", Size, len(b))
	}
	img := make(Image, Size)
	copy(img, b)
	return img, nil
}

// ReadImage loads an image file written by Save.
func ReadImage(path string) (Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read image: %w", err)
	}
	img, err := ParseImage(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func (i Image) Save(path string) error {
	if err := os.WriteFile(path, i, 0o644); err != nil {
		return fmt.Errorf("could not write image: %w", err)
	}
	return nil
}

// Type returns the chip type letter.
func (i Image) Type() byte {
	return i[TypeOffset]
}

// PageCount returns the printed page counter.
func (i Image) PageCount() uint32 {
	return binary.BigEndian.Uint32(i[CounterOffset : CounterOffset+CounterSize])
}

func (i Image) Signature() []byte {
	return i[SignatureOffset : SignatureOffset+SignatureSize]
}

// BackupName returns the file name used for automatic backups of a chip of
// the given type.
func BackupName(typeName string, t time.Time) string {
	return fmt.Sprintf("%s_%s.bin", typeName, t.Format("2006-01-02_15-04-05"))
}
