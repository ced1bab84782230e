package calibrate

import (
	"math"

	pkgerrors "github.com/pkg/errors"

	"github.com/tolgayilmaz86/pedalcal/pkg/report"
)

// Candidate is one hypothesis for where and how an axis is encoded within a
// report. Transient: computed during discrimination, discarded after the
// best candidate is selected.
type Candidate struct {
	Offset int
	Width  report.Width
	Score  float64
}

// Scoring configures how an offset's baseline and active populations are
// compared. The historical implementations of this scan differed only in
// their weights, so there is a single scan with the weights exposed.
//
// The score of an offset is:
//
//	Variance*(var(active)-var(baseline)) +
//	Span*((max-min of active)-(max-min of baseline)) +
//	MeanShift*|mean(active)-mean(baseline)|
type Scoring struct {
	Variance  float64
	Span      float64
	MeanShift float64
}

// VarianceScoring is the canonical variance-difference policy.
var VarianceScoring = Scoring{Variance: 1}

func (sc Scoring) score(baseline, active []float64) float64 {
	s := 0.0
	if sc.Variance != 0 {
		s += sc.Variance * (variance(active) - variance(baseline))
	}
	if sc.Span != 0 {
		bLo, bHi := minMax(baseline)
		aLo, aHi := minMax(active)
		s += sc.Span * ((aHi - aLo) - (bHi - bLo))
	}
	if sc.MeanShift != 0 {
		s += sc.MeanShift * math.Abs(mean(active)-mean(baseline))
	}
	return s
}

// Discriminate scans every byte offset of the combined report pool and
// returns the offset whose value distribution shifts the most between the
// baseline and active populations. Ties resolve to the lowest offset. When
// no offset shows more active variance than baseline the result carries
// offset 0 and score 0; distinguishing that from a confident hit is caller
// policy, gated on a score threshold.
func Discriminate(baseline, active *report.SampleSet, sc Scoring) (Candidate, error) {
	if baseline.Empty() {
		return Candidate{}, pkgerrors.Wrap(ErrInsufficientSamples, "baseline phase produced no reports")
	}
	if active.Empty() {
		return Candidate{}, pkgerrors.Wrap(ErrInsufficientSamples, "active phase produced no reports")
	}

	// Offsets beyond the shortest report in the pool are never compared;
	// report lengths vary across polls on some devices.
	l := report.MinReportLen(baseline, active)

	best := Candidate{Offset: 0, Width: report.Width8, Score: 0}
	found := false
	for o := 0; o < l; o++ {
		s := sc.score(baseline.ValuesAt(o, report.Width8), active.ValuesAt(o, report.Width8))
		if !found || s > best.Score {
			best = Candidate{Offset: o, Width: report.Width8, Score: s}
			found = true
		}
	}

	if best.Score <= 0 {
		return Candidate{Offset: 0, Width: report.Width8, Score: 0}, nil
	}
	return best, nil
}

// RangeScan configures the multi-width steering scan.
type RangeScan struct {
	// Widths in preference order. Wider encodings are assumed unless a
	// narrower one spans a strictly larger range.
	Widths []report.Width
	// MinSpan discards candidates whose left/right means span less than
	// this many raw units.
	MinSpan float64
	// CenterTolerance is the fraction of the span the center mean may drift
	// outside the left/right interval (backlash allowance).
	CenterTolerance float64
}

// DefaultRangeScan mirrors the tuning the scan shipped with: a 50-raw-unit
// minimum span and a 0.3 containment margin.
func DefaultRangeScan() RangeScan {
	return RangeScan{
		Widths:          []report.Width{report.Width32, report.Width16, report.Width8},
		MinSpan:         DefaultMinSteeringSpan,
		CenterTolerance: 0.3,
	}
}

// DiscriminateRange finds the (offset, width) pair that maximizes the
// absolute range spanned between the left and right phase means, subject to
// the center mean lying within the spanned interval widened by the
// tolerance margin. Candidates below the minimum span are discarded outright
// regardless of score. Returns ErrCalibrationFailed when the filtered
// candidate set is empty.
func DiscriminateRange(center, left, right *report.SampleSet, cfg RangeScan) (Candidate, error) {
	for _, s := range []*report.SampleSet{center, left, right} {
		if s.Empty() {
			return Candidate{}, pkgerrors.Wrapf(ErrInsufficientSamples, "%s phase produced no reports", s.Name)
		}
	}
	if len(cfg.Widths) == 0 {
		cfg = DefaultRangeScan()
	}

	l := report.MinReportLen(center, left, right)

	var best Candidate
	found := false
	for _, w := range cfg.Widths {
		for o := 0; o+w.Bytes() <= l; o++ {
			cVal := mean(center.ValuesAt(o, w))
			lVal := mean(left.ValuesAt(o, w))
			rVal := mean(right.ValuesAt(o, w))

			span := math.Abs(lVal - rVal)
			if span < cfg.MinSpan {
				continue
			}
			lo := math.Min(lVal, rVal) - cfg.CenterTolerance*span
			hi := math.Max(lVal, rVal) + cfg.CenterTolerance*span
			if cVal < lo || cVal > hi {
				continue
			}
			// Strict greater-than: a narrower width only wins if its span
			// strictly exceeds every wider candidate already seen.
			if !found || span > best.Score {
				best = Candidate{Offset: o, Width: w, Score: span}
				found = true
			}
		}
	}

	if !found {
		return Candidate{}, pkgerrors.Wrap(ErrCalibrationFailed, "steering scan")
	}
	return best, nil
}
