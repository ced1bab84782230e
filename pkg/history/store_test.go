package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndRecent(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.Insert(Record{
			DevicePath: "/dev/hidraw0",
			VendorID:   0x046d,
			ProductID:  0xc262,
			Axis:       "throttle",
			Offset:     6,
			Width:      8,
			Score:      1200.5 + float64(i),
		})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	recs, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	// Newest first.
	if recs[0].Score != 1202.5 {
		t.Errorf("expected newest record first, got score %v", recs[0].Score)
	}
	if recs[0].VendorID != 0x046d || recs[0].ProductID != 0xc262 {
		t.Errorf("unexpected device ids: %04x:%04x", recs[0].VendorID, recs[0].ProductID)
	}
	if recs[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set on insert")
	}
}

func TestRecentLimit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := s.Insert(Record{Axis: "brake", Offset: i, Width: 8}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	recs, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Offset != 4 || recs[1].Offset != 3 {
		t.Errorf("expected offsets 4,3 newest first, got %d,%d", recs[0].Offset, recs[1].Offset)
	}
}

func TestLatestFor(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ins := func(vid, pid uint16, axis string, offset int, at time.Time) {
		t.Helper()
		if _, err := s.Insert(Record{
			VendorID: vid, ProductID: pid, Axis: axis,
			Offset: offset, Width: 16, CreatedAt: at,
		}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	ins(0x046d, 0xc262, "steering", 4, base)
	ins(0x046d, 0xc262, "steering", 5, base.Add(time.Hour))
	ins(0x046d, 0xc24f, "steering", 43, base)

	rec, ok, err := s.LatestFor(0x046d, 0xc262, "steering")
	if err != nil {
		t.Fatalf("LatestFor: %v", err)
	}
	if !ok {
		t.Fatal("expected a record")
	}
	if rec.Offset != 5 {
		t.Errorf("expected newest record (offset 5), got offset %d", rec.Offset)
	}
	if !rec.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("unexpected CreatedAt: %v", rec.CreatedAt)
	}

	_, ok, err = s.LatestFor(0x046d, 0xc262, "clutch")
	if err != nil {
		t.Fatalf("LatestFor: %v", err)
	}
	if ok {
		t.Error("expected no record for uncalibrated axis")
	}
}
