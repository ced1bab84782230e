package preset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinTable(t *testing.T) {
	tbl, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin failed: %v", err)
	}
	if tbl.Len() == 0 {
		t.Fatal("builtin table is empty")
	}

	d, ok := tbl.Lookup(0x046d, 0xc262)
	if !ok {
		t.Fatal("G920 not found in builtin table")
	}
	if d.Name == "" {
		t.Error("preset has no name")
	}

	a, ok := tbl.LookupAxis(0x046d, 0xc262, "steering")
	if !ok {
		t.Fatal("G920 steering preset not found")
	}
	if a.Offset != 4 || a.Width != 16 {
		t.Errorf("G920 steering = offset %d width %d, want 4/16", a.Offset, a.Width)
	}
	if a.Center != 32768 || a.HalfRange != 32768 {
		t.Errorf("G920 steering range = center %d half %d, want 32768/32768", a.Center, a.HalfRange)
	}
}

func TestLookupUnknownDevice(t *testing.T) {
	tbl, err := Builtin()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup(0xffff, 0xffff); ok {
		t.Error("unknown device must not resolve")
	}
	if _, ok := tbl.LookupAxis(0x046d, 0xc262, "handbrake"); ok {
		t.Error("unknown axis must not resolve")
	}
}

func TestLoadFileOverridesBuiltin(t *testing.T) {
	tbl, err := Builtin()
	if err != nil {
		t.Fatal(err)
	}

	custom := `
[[device]]
name = "G920 (custom firmware)"
vendor_id = 0x046d
product_id = 0xc262

  [[device.axis]]
  axis = "steering"
  offset = 2
  width = 32
`
	path := filepath.Join(t.TempDir(), "presets.toml")
	if err := os.WriteFile(path, []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}
	if err := tbl.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	a, ok := tbl.LookupAxis(0x046d, 0xc262, "steering")
	if !ok {
		t.Fatal("steering preset missing after override")
	}
	if a.Offset != 2 || a.Width != 32 {
		t.Errorf("override not applied: offset %d width %d", a.Offset, a.Width)
	}
}

func TestLoadFileRejectsBadWidth(t *testing.T) {
	tbl := NewTable()
	bad := `
[[device]]
name = "broken"
vendor_id = 0x1234
product_id = 0x5678

  [[device.axis]]
  axis = "throttle"
  offset = 0
  width = 12
`
	path := filepath.Join(t.TempDir(), "presets.toml")
	if err := os.WriteFile(path, []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}
	if err := tbl.LoadFile(path); err == nil {
		t.Error("unsupported width must be rejected")
	}
}
