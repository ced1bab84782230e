package report

import "testing"

func TestDecodeLE(t *testing.T) {
	r := Report{0x01, 0x02, 0x03, 0x04, 0xff, 0xff, 0xff, 0xff}

	tests := []struct {
		name   string
		offset int
		width  Width
		want   int64
		ok     bool
	}{
		{name: "byte at 0", offset: 0, width: Width8, want: 0x01, ok: true},
		{name: "byte at 4", offset: 4, width: Width8, want: 0xff, ok: true},
		{name: "uint16 LE", offset: 0, width: Width16, want: 0x0201, ok: true},
		{name: "uint16 LE mid", offset: 2, width: Width16, want: 0x0403, ok: true},
		{name: "uint32 LE", offset: 0, width: Width32, want: 0x04030201, ok: true},
		{name: "int32 sign extension", offset: 4, width: Width32, want: -1, ok: true},
		{name: "past end", offset: 7, width: Width16, ok: false},
		{name: "wide past end", offset: 6, width: Width32, ok: false},
		{name: "negative offset", offset: -1, width: Width8, ok: false},
		{name: "invalid width", offset: 0, width: Width(24), ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeLE(r, tt.offset, tt.width)
			if ok != tt.ok {
				t.Fatalf("DecodeLE ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("DecodeLE = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSampleSetAppendCopies(t *testing.T) {
	s := NewSampleSet("baseline")
	buf := Report{1, 2, 3}
	s.Append(buf)
	buf[0] = 99
	if s.Reports[0][0] != 1 {
		t.Errorf("Append must copy the report, got mutated value %d", s.Reports[0][0])
	}
}

func TestSampleSetAppendDropsEmpty(t *testing.T) {
	s := NewSampleSet("active")
	s.Append(nil)
	s.Append(Report{})
	if !s.Empty() {
		t.Errorf("empty reads must not be buffered, got %d reports", s.Len())
	}
}

func TestMinReportLen(t *testing.T) {
	a := NewSampleSet("baseline")
	a.Append(Report{1, 2, 3, 4, 5, 6, 7, 8})
	a.Append(Report{1, 2, 3, 4})
	b := NewSampleSet("active")
	b.Append(Report{1, 2, 3, 4, 5, 6})

	if got := a.MinReportLen(); got != 4 {
		t.Errorf("set MinReportLen = %d, want 4", got)
	}
	if got := MinReportLen(a, b); got != 4 {
		t.Errorf("pool MinReportLen = %d, want 4", got)
	}
	if got := MinReportLen(NewSampleSet("x")); got != 0 {
		t.Errorf("empty pool MinReportLen = %d, want 0", got)
	}
	if got := MinReportLen(NewSampleSet("x"), b); got != 6 {
		t.Errorf("pool with one empty set MinReportLen = %d, want 6", got)
	}
}

func TestValuesAtSkipsShortReports(t *testing.T) {
	s := NewSampleSet("center")
	s.Append(Report{0, 0, 0, 0, 0x00, 0x80}) // 32768 at offset 4, width 16
	s.Append(Report{0, 0, 0, 0})             // too short, skipped

	vals := s.ValuesAt(4, Width16)
	if len(vals) != 1 {
		t.Fatalf("ValuesAt returned %d values, want 1", len(vals))
	}
	if vals[0] != 32768 {
		t.Errorf("ValuesAt[0] = %v, want 32768", vals[0])
	}
}
