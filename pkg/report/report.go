// Package report defines the raw HID report snapshot and the sample-set
// containers the calibration engine works on. Reports are produced by the
// device layer and consumed read-only; a SampleSet owns its reports for the
// duration of one capture phase and is frozen once the phase ends.
package report

// MaxLen is the longest input report the engine will consider. Devices that
// claim longer reports are truncated by the device layer before capture.
const MaxLen = 64

// Width is the bit width of an encoded axis value within a report.
type Width int

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
)

// Bytes returns the number of bytes the width occupies.
func (w Width) Bytes() int { return int(w) / 8 }

// Bits returns the width in bits.
func (w Width) Bits() int { return int(w) }

// Valid reports whether w is one of the supported encodings.
func (w Width) Valid() bool {
	return w == Width8 || w == Width16 || w == Width32
}

// Report is one raw input snapshot read from a device. It is immutable once
// captured.
type Report []byte

// DecodeLE reconstructs the little-endian value of the given width starting
// at the given byte offset. 32-bit values are interpreted as two's-complement
// signed, matching wheels that report signed steering positions. The second
// return value is false when the report is too short to hold the value at
// that offset.
func DecodeLE(r Report, offset int, w Width) (int64, bool) {
	if offset < 0 || !w.Valid() {
		return 0, false
	}
	n := w.Bytes()
	if offset+n > len(r) {
		return 0, false
	}
	switch w {
	case Width8:
		return int64(r[offset]), true
	case Width16:
		return int64(uint16(r[offset]) | uint16(r[offset+1])<<8), true
	default: // Width32
		v := uint32(r[offset]) |
			uint32(r[offset+1])<<8 |
			uint32(r[offset+2])<<16 |
			uint32(r[offset+3])<<24
		return int64(int32(v)), true
	}
}

// SampleSet is a named, time-ordered collection of reports captured during
// one sampling phase (baseline, active, center, left or right).
type SampleSet struct {
	Name    string
	Reports []Report
}

// NewSampleSet returns an empty sample set for the given phase name.
func NewSampleSet(name string) *SampleSet {
	return &SampleSet{Name: name}
}

// Append copies r into the set. The copy keeps the set immune to the device
// layer reusing its read buffer between polls.
func (s *SampleSet) Append(r Report) {
	if len(r) == 0 {
		return
	}
	cp := make(Report, len(r))
	copy(cp, r)
	s.Reports = append(s.Reports, cp)
}

// Len returns the number of captured reports.
func (s *SampleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Reports)
}

// Empty reports whether the set holds no reports.
func (s *SampleSet) Empty() bool { return s.Len() == 0 }

// MinReportLen returns the length of the shortest report in the set, or 0 if
// the set is empty. Devices are known to report inconsistent frame lengths
// across polls, so byte-for-byte comparisons must clamp to this.
func (s *SampleSet) MinReportLen() int {
	if s.Len() == 0 {
		return 0
	}
	min := len(s.Reports[0])
	for _, r := range s.Reports[1:] {
		if len(r) < min {
			min = len(r)
		}
	}
	return min
}

// MinReportLen returns the length of the shortest report across all given
// sets, or 0 if no set holds any report.
func MinReportLen(sets ...*SampleSet) int {
	min := 0
	for _, s := range sets {
		if s.Len() == 0 {
			continue
		}
		l := s.MinReportLen()
		if min == 0 || l < min {
			min = l
		}
	}
	return min
}

// ValuesAt decodes every report in the set at the given offset and width,
// skipping reports too short to hold the value.
func (s *SampleSet) ValuesAt(offset int, w Width) []float64 {
	vals := make([]float64, 0, s.Len())
	for _, r := range s.Reports {
		if v, ok := DecodeLE(r, offset, w); ok {
			vals = append(vals, float64(v))
		}
	}
	return vals
}
