// Package preset holds the known-device table: vendor/product IDs mapped to
// axis offsets, widths and steering ranges that skip discrimination for
// hardware we have seen before. The table ships embedded and can be extended
// or overridden from a user file.
package preset

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
	pkgerrors "github.com/pkg/errors"
)

//go:embed presets.toml
var builtinTOML []byte

// AxisPreset is one known axis encoding for a device.
type AxisPreset struct {
	Axis      string `toml:"axis" json:"axis"`
	Offset    int    `toml:"offset" json:"offset"`
	Width     int    `toml:"width" json:"width"`
	Center    int    `toml:"center,omitempty" json:"center,omitempty"`
	HalfRange int    `toml:"half_range,omitempty" json:"halfRange,omitempty"`
}

// DevicePreset is the full entry for one vendor/product pair.
type DevicePreset struct {
	Name      string       `toml:"name" json:"name"`
	VendorID  uint16       `toml:"vendor_id" json:"vendorId"`
	ProductID uint16       `toml:"product_id" json:"productId"`
	Axes      []AxisPreset `toml:"axis" json:"axes"`
}

type tableFile struct {
	Devices []DevicePreset `toml:"device"`
}

// Table is a preset lookup with an explicit owner and lifetime. The daemon
// holds one instance; nothing in this package is package-level mutable
// state.
type Table struct {
	mu   sync.RWMutex
	byID map[uint32]DevicePreset
}

func key(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{byID: make(map[uint32]DevicePreset)}
}

// Builtin returns a table populated from the embedded defaults.
func Builtin() (*Table, error) {
	t := NewTable()
	if err := t.merge(builtinTOML); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to parse builtin preset table")
	}
	return t, nil
}

// LoadFile merges presets from a user TOML file; entries for a
// vendor/product pair already in the table replace the existing entry.
func (t *Table) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read preset file %s", path)
	}
	if err := t.merge(b); err != nil {
		return pkgerrors.Wrapf(err, "failed to parse preset file %s", path)
	}
	return nil
}

func (t *Table) merge(b []byte) error {
	var f tableFile
	if _, err := toml.NewDecoder(bytes.NewReader(b)).Decode(&f); err != nil {
		return err
	}
	for _, d := range f.Devices {
		for _, a := range d.Axes {
			if a.Width != 8 && a.Width != 16 && a.Width != 32 {
				return fmt.Errorf("device %q axis %q: unsupported width %d", d.Name, a.Axis, a.Width)
			}
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range f.Devices {
		t.byID[key(d.VendorID, d.ProductID)] = d
	}
	return nil
}

// Lookup returns the preset for a vendor/product pair, if known.
func (t *Table) Lookup(vid, pid uint16) (DevicePreset, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byID[key(vid, pid)]
	return d, ok
}

// LookupAxis returns the preset for one axis of a device, if known.
func (t *Table) LookupAxis(vid, pid uint16, axis string) (AxisPreset, bool) {
	d, ok := t.Lookup(vid, pid)
	if !ok {
		return AxisPreset{}, false
	}
	for _, a := range d.Axes {
		if a.Axis == axis {
			return a, true
		}
	}
	return AxisPreset{}, false
}

// Len returns the number of device entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
