package cartridge

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultProfile []byte

const UnknownType = "Unknown"

// Region is a span of chip memory.
type Region struct {
	Offset int `yaml:"offset"`
	Size   int `yaml:"size"`
}

// ChipType describes one cartridge color. Template names a clean image of
// that type; relative paths are resolved against the profile file.
type ChipType struct {
	Name     string `yaml:"name"`
	Code     string `yaml:"code"`
	Slot     int    `yaml:"slot"`
	Extended bool   `yaml:"extended"`
	Template string `yaml:"template,omitempty"`
}

type Charge struct {
	Detect time.Duration `yaml:"detect"`
	Scan   time.Duration `yaml:"scan"`
}

// Profile holds the printer specific layout: where the chips answer, how
// they are written and which types exist.
type Profile struct {
	ChipSelectBase byte          `yaml:"chip_select_base"`
	Slots          int           `yaml:"slots"`
	PageSize       int           `yaml:"page_size"`
	FallbackType   string        `yaml:"fallback_type"`
	Charge         Charge        `yaml:"charge"`
	ScanPause      time.Duration `yaml:"scan_pause"`
	ExtendedUpdate []Region      `yaml:"extended_update"`
	Types          []ChipType    `yaml:"types"`

	dir string
}

// DefaultProfile returns the built in profile.
func DefaultProfile() (*Profile, error) {
	return ParseProfile(defaultProfile, "")
}

// LoadProfile reads a profile file. An empty path yields the default.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return DefaultProfile()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read profile: %w", err)
	}
	return ParseProfile(b, filepath.Dir(path))
}

// ParseProfile decodes a profile. dir is used to resolve template paths.
func ParseProfile(b []byte, dir string) (*Profile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	p := &Profile{}
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("could not decode profile: %w", err)
	}
	p.dir = dir
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) validate() error {
	if p.Slots < 1 || p.Slots > 8 {
		return fmt.Errorf("invalid profile: slots must be between 1 and 8, got %d", p.Slots)
	}
	if int(p.ChipSelectBase)+(p.Slots-1)<<2 > 0x7C {
		return fmt.Errorf("invalid profile: chip select base 0x%02X leaves no room for %d slots", p.ChipSelectBase, p.Slots)
	}
	if p.PageSize < 1 || Size%p.PageSize != 0 {
		return fmt.Errorf("invalid profile: page size %d does not divide %d", p.PageSize, Size)
	}
	for _, r := range p.ExtendedUpdate {
		if r.Offset < 0 || r.Size < 1 || r.Offset+r.Size > Size {
			return fmt.Errorf("invalid profile: extended update region %#x/%d out of range", r.Offset, r.Size)
		}
	}
	seen := map[string]bool{}
	for _, t := range p.Types {
		if len(t.Code) != 1 {
			return fmt.Errorf("invalid profile: type %s code must be a single letter", t.Name)
		}
		if seen[t.Code] {
			return fmt.Errorf("invalid profile: duplicate type code %q", t.Code)
		}
		seen[t.Code] = true
		if t.Slot < 0 || t.Slot >= p.Slots {
			return fmt.Errorf("invalid profile: type %s slot %d out of range", t.Name, t.Slot)
		}
	}
	return nil
}

// ChipSelect returns the chip select of a slot.
func (p *Profile) ChipSelect(slot int) byte {
	return p.ChipSelectBase | byte(slot&0x07)<<2
}

// Identify looks the image type letter up.
func (p *Profile) Identify(img Image) (ChipType, bool) {
	for _, t := range p.Types {
		if t.Code[0] == img.Type() {
			return t, true
		}
	}
	return ChipType{Name: UnknownType, Code: string(img.Type())}, false
}

// TypeByName returns the named chip type.
func (p *Profile) TypeByName(name string) (ChipType, bool) {
	for _, t := range p.Types {
		if t.Name == name {
			return t, true
		}
	}
	return ChipType{}, false
}

// Template loads the clean image of a chip type. It returns nil without error
// when the type has no template configured.
func (p *Profile) Template(t ChipType) (Image, error) {
	if t.Template == "" {
		return nil, nil
	}
	path := t.Template
	if !filepath.IsAbs(path) && p.dir != "" {
		path = filepath.Join(p.dir, path)
	}
	img, err := ReadImage(path)
	if err != nil {
		return nil, fmt.Errorf("template of %s: %w", t.Name, err)
	}
	return img, nil
}
