package engine

import "math"

// Base hit windows in milliseconds at overall difficulty 5.
const (
	basePerfectMS = 25.0
	baseGreatMS   = 50.0
	baseGoodMS    = 200.0

	// windowScaleBase is the per-difficulty-step scale factor. The scaling is
	// exponential so low difficulties are dramatically more forgiving.
	windowScaleBase = 1.41

	// DefaultOverallDifficulty is used when the config leaves the scalar
	// unset.
	DefaultOverallDifficulty = 5.0

	// missWindowMS is the fixed guard beyond a note's time after which a
	// pending note becomes Missed. It is kept wider than the widest good
	// window (OD 1) so a note is never missed while still hittable.
	missWindowMS = 1000.0
)

// TimingWindows holds the hit windows, in milliseconds, for one overall
// difficulty setting.
type TimingWindows struct {
	PerfectMS float64
	GreatMS   float64
	GoodMS    float64
}

// Windows computes the hit windows for an overall difficulty in [1, 10].
// Values outside the range are clamped; zero selects the default. Base
// windows (25/50/200 ms at difficulty 5) are scaled by 1.41^(5-od) and
// rounded to the nearest millisecond, so lower difficulty means wider
// windows.
func Windows(od float64) TimingWindows {
	if od == 0 {
		od = DefaultOverallDifficulty
	}
	od = math.Min(10, math.Max(1, od))

	scale := math.Pow(windowScaleBase, DefaultOverallDifficulty-od)
	return TimingWindows{
		PerfectMS: math.Round(basePerfectMS * scale),
		GreatMS:   math.Round(baseGreatMS * scale),
		GoodMS:    math.Round(baseGoodMS * scale),
	}
}

// Classify returns the accuracy tier for an absolute timing distance in
// milliseconds, or TierMiss when the distance falls outside the good window.
func (w TimingWindows) Classify(absMS float64) Tier {
	switch {
	case absMS <= w.PerfectMS:
		return TierPerfect
	case absMS <= w.GreatMS:
		return TierGreat
	case absMS <= w.GoodMS:
		return TierGood
	default:
		return TierMiss
	}
}
