// Package calc implements the pure numerical core of the hydrologic and
// hydraulic model: TR-55 time of concentration, TR-55 peak flow with the
// rain-ratio adjustment, the FHWA submerged-inlet-control capacity
// equation, and the overflow / max-return-period combinators. None of
// these functions perform I/O or block; a non-finite input or an
// underdetermined radicand resolves to a nil result rather than an error.
package calc

import (
	"math"
	"sort"

	"github.com/ctessum/unit/badunit"
)

// Time-of-concentration constants, TR-55 kinematic (hourly).
const (
	tcConstA = 0.000325
	tcConstB = 0.77
	tcConstC = -0.385
)

// TimeOfConcentrationHr computes TR-55 hourly time of concentration from
// the catchment's maximum flow length (metres) and mean slope (percent
// rise, e.g. 23 not 0.23). A zero or missing slope is substituted with
// 1e-5 to keep the slope term finite.
func TimeOfConcentrationHr(maxFlowLengthM, meanSlopePct float64) float64 {
	if meanSlopePct == 0 {
		meanSlopePct = 1e-5
	}
	return tcConstA * math.Pow(maxFlowLengthM, tcConstB) * math.Pow(meanSlopePct/100, tcConstC)
}

// siConvFactor is the FHWA inlet-control equation's SI unit-conversion
// factor.
const siConvFactor = 1.811

// CulvertCapacity implements the FHWA inlet-control submerged-outlet
// capacity equation (HIF12026 Appendix A). areaSqm is the culvert's
// internal cross-sectional area (m²), depthM its rise (m), headM the
// hydraulic head above the invert (m), slopeRR its rise/run slope, and
// c, y, ks the FHWA coefficients for the culvert's shape/material/inlet-
// type combination. It returns nil when the radicand is non-positive or
// depthM/c are zero — this is not an error, it is an undefined capacity.
func CulvertCapacity(areaSqm, depthM, headM, slopeRR, c, y, ks float64) *float64 {
	if depthM == 0 || c == 0 {
		return nil
	}
	radicand := depthM * ((headM / depthM) - y - ks*slopeRR) / c
	if radicand <= 0 || math.IsNaN(radicand) {
		return nil
	}
	capacity := (areaSqm * math.Sqrt(radicand)) / siConvFactor
	if math.IsNaN(capacity) || math.IsInf(capacity, 0) {
		return nil
	}
	return &capacity
}

// RainRatioMethod selects between the two TR-55 unit-peak-discharge
// formulations.
type RainRatioMethod int

const (
	// RainRatioContinuous is method 1: continuous in Ia/P, clipped to
	// [0.1, 0.5].
	RainRatioContinuous RainRatioMethod = iota
	// RainRatioDiscrete is method 2: a 9-element lookup over the
	// standard return periods.
	RainRatioDiscrete
)

// standardFrequencies are the 9 return periods (years) method 2 requires,
// in ascending order.
var standardFrequencies = []int{1, 2, 5, 10, 25, 50, 100, 200, 500}

var method2Const0 = []float64{2.798, 2.798, 3.225, 3.529, 3.932, 4.244, 4.57, 4.914, 5.403}
var method2Const1 = []float64{0.367, 0.367, 0.481, 0.559, 0.658, 0.733, 0.81, 0.888, 0.996}

// unitPeakDischargeMethod2 finds freq's index among the standard return
// periods and returns the corresponding qu, floored at 0.14. It panics if
// freq is not one of the 9 standard return periods — callers must
// validate this before invoking method 2.
func unitPeakDischargeMethod2(freq int, tcHr float64) float64 {
	idx := sort.SearchInts(standardFrequencies, freq)
	if idx >= len(standardFrequencies) || standardFrequencies[idx] != freq {
		panic("calc: rain ratio method 2 requires one of the 9 standard return periods")
	}
	qu := (method2Const0[idx] - method2Const1[idx]*tcHr) / 8.64
	if qu < 0.14 {
		qu = 0.14
	}
	return qu
}

// unitPeakDischargeMethod1 computes qu continuously from Ia/P, clipped to
// [0.1, 0.5].
func unitPeakDischargeMethod1(iaOverP, tcHr float64) float64 {
	r := iaOverP
	if r < 0.1 {
		r = 0.1
	} else if r > 0.5 {
		r = 0.5
	}
	c0 := -2.2349*r*r + 0.4759*r + 2.5273
	c1 := 1.5555*r*r - 0.7081*r - 0.5584
	c2 := 0.6041*r*r + 0.0437*r - 0.1761
	logTc := math.Log10(tcHr)
	return math.Pow(10, c0+c1*logTc+c2*logTc*logTc-2.366)
}

// PeakFlow computes TR-55 peak flow for one storm frequency. avgRainfallCm
// is P, basinAreaSqkm is A_b. tcHr, if zero, is derived from
// maxFlowLengthM/meanSlopePct via TimeOfConcentrationHr. It returns
// (nil, tcHr) when avgCN is zero or effective rainfall is negative — not
// an error, just an undefined peak flow for that storm.
func PeakFlow(avgRainfallCm, basinAreaSqkm, avgCN, tcHr, meanSlopePct, maxFlowLengthM float64, freq int, method RainRatioMethod) (qPeak *float64, tcHrOut float64) {
	if avgCN == 0 {
		return nil, tcHr
	}
	if tcHr == 0 {
		tcHr = TimeOfConcentrationHr(maxFlowLengthM, meanSlopePct)
	}
	storage := 0.1 * (25400/avgCN - 254) // cm
	ia := 0.2 * storage                  // cm
	pe := avgRainfallCm - ia
	if pe < 0 {
		return nil, tcHr
	}
	q := pe * pe / (avgRainfallCm + storage - ia) // cm

	var qu float64
	switch method {
	case RainRatioDiscrete:
		qu = unitPeakDischargeMethod2(freq, tcHr)
	default:
		qu = unitPeakDischargeMethod1(ia/avgRainfallCm, tcHr)
	}

	peak := q * qu * basinAreaSqkm
	if math.IsNaN(peak) || math.IsInf(peak, 0) {
		return nil, tcHr
	}
	return &peak, tcHr
}

// Overflow returns capacity minus peakFlow, or nil if either input is nil.
// A positive result means excess capacity.
func Overflow(capacity, peakFlow *float64) *float64 {
	if capacity == nil || peakFlow == nil {
		return nil
	}
	v := *capacity - *peakFlow
	return &v
}

// MaxReturnPeriod returns the greatest frequency in freqs whose matching
// overflow in overflows is non-negative, or nil if none qualifies. freqs
// and overflows must be parallel slices.
func MaxReturnPeriod(freqs []int, overflows []*float64) *int {
	var best *int
	for i, ov := range overflows {
		if ov == nil || *ov < 0 {
			continue
		}
		if best == nil || freqs[i] > *best {
			f := freqs[i]
			best = &f
		}
	}
	return best
}

// FeetToMetres converts a length measured in feet to metres, using
// github.com/ctessum/unit/badunit so the conversion factor lives in one
// audited place rather than as an inline magic constant.
func FeetToMetres(feet float64) float64 {
	return badunit.Foot(feet).Value()
}

// footToMetre is the per-edge conversion factor badunit.Foot applies;
// squaring it converts an area in square feet to square metres.
var footToMetre = badunit.Foot(1).Value()

// SqFeetToSqKm converts an area measured in square feet to square
// kilometres.
func SqFeetToSqKm(sqft float64) float64 {
	return sqft * footToMetre * footToMetre / 1e6
}
