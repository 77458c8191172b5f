// Package analytics implements the per-point analytics driver and
// crossing aggregation: it turns a point's delineated Shed into a
// per-frequency series of peak flow and overflow, then reconciles
// capacity and peak flow across multi-culvert crossings that share a
// group_id.
package analytics

import (
	"fmt"
	"sort"

	"github.com/civicmapper/drainit"
	"github.com/civicmapper/drainit/internal/calc"
)

// rainfallUnitToCm converts a rainfall-raster reading to centimetres.
// NOAA Atlas 14 rasters are conventionally stored as thousandths of an
// inch ("inches/1000"); plain "inches" and "cm" are also accepted.
func rainfallUnitToCm(value float64, units string) (float64, error) {
	switch units {
	case "", "inches/1000":
		return value / 1000 * 2.54, nil
	case "inches":
		return value * 2.54, nil
	case "cm":
		return value, nil
	default:
		return 0, fmt.Errorf("analytics: unrecognized rainfall units %q", units)
	}
}

// Driver runs the per-point analytics step and the cross-point crossing
// aggregation that follows it.
type Driver struct {
	Method calc.RainRatioMethod
}

// Run computes analytics for every included point, then performs crossing
// aggregation across group_id-partitioned groups, and returns the updated
// points. Points with Include==false pass through unmodified.
func (d *Driver) Run(pts []drainit.Point) ([]drainit.Point, error) {
	out := make([]drainit.Point, len(pts))
	copy(out, pts)

	for i := range out {
		if !out[i].Include || out[i].Shed == nil {
			continue
		}
		if err := d.buildPointAnalytics(&out[i]); err != nil {
			return nil, fmt.Errorf("analytics: point %s: %w", out[i].UID, err)
		}
	}

	aggregateCrossings(out)

	for i := range out {
		if !out[i].Include {
			continue
		}
		freqs := make([]int, len(out[i].Analytics))
		overflows := make([]*float64, len(out[i].Analytics))
		for j, a := range out[i].Analytics {
			freqs[j] = a.Frequency
			overflows[j] = a.Overflow.CrossingOverflowM3s
		}
		out[i].Capacity.MaxReturnPeriod = calc.MaxReturnPeriod(freqs, overflows)
	}

	return out, nil
}

// buildPointAnalytics computes the per-frequency peak-flow/overflow
// series for a single point.
func (d *Driver) buildPointAnalytics(p *drainit.Point) error {
	shed := p.Shed

	// Step 2: tentative single-barrel crossing capacity.
	p.Capacity.CrossingCapacity = p.Capacity.CulvertCapacity

	// Step 3: time of concentration, computed once.
	shed.TcHr = calc.TimeOfConcentrationHr(shed.MaxFlM, shed.AvgSlopePct)

	// Step 1: build analytics from shed.avg_rainfall in ascending
	// frequency order.
	rainfalls := make([]drainit.Rainfall, len(shed.AvgRainfall))
	copy(rainfalls, shed.AvgRainfall)
	sort.Slice(rainfalls, func(i, j int) bool { return rainfalls[i].Freq < rainfalls[j].Freq })

	analytics := make([]drainit.Analytics, 0, len(rainfalls))
	for _, r := range rainfalls {
		cm, err := rainfallUnitToCm(r.Value, r.Units)
		if err != nil {
			p.AddNote(err.Error())
			continue
		}

		a := drainit.Analytics{Frequency: r.Freq, Duration: r.Dur, AvgRainfallCm: cm}

		qPeak, tcHr := calc.PeakFlow(cm, shed.AreaSqKm, shed.AvgCN, shed.TcHr, shed.AvgSlopePct, shed.MaxFlM, r.Freq, d.Method)
		shed.TcHr = tcHr
		a.PeakFlow = drainit.PeakFlow{TcHr: tcHr, CulvertPeakFlowM3s: qPeak, CrossingPeakFlowM3s: qPeak}

		overflow := calc.Overflow(p.Capacity.CulvertCapacity, qPeak)
		a.Overflow = drainit.Overflow{CulvertOverflowM3s: overflow, CrossingOverflowM3s: overflow}

		analytics = append(analytics, a)
	}

	drainit.SortAnalytics(analytics)
	p.Analytics = analytics
	return nil
}

// aggregateCrossings pools capacity and shares the reference point's
// peak flow across all members of each group_id-partitioned crossing of
// size >= 2.
func aggregateCrossings(pts []drainit.Point) {
	groups := make(map[string][]int)
	for i, p := range pts {
		if !p.Include {
			continue
		}
		groups[p.GroupID] = append(groups[p.GroupID], i)
	}

	for _, members := range groups {
		if len(members) < 2 {
			continue
		}

		var crossingCapacity float64
		for _, i := range members {
			if c := pts[i].Capacity.CulvertCapacity; c != nil {
				crossingCapacity += *c
			}
		}

		ref := members[0]
		for _, i := range members[1:] {
			if betterReference(pts[i], pts[ref]) {
				ref = i
			}
		}

		for _, i := range members {
			cc := crossingCapacity
			pts[i].Capacity.CrossingCapacity = &cc
			for j := range pts[i].Analytics {
				refPeak := peakFlowAt(pts[ref], pts[i].Analytics[j].Frequency)
				pts[i].Analytics[j].PeakFlow.CrossingPeakFlowM3s = refPeak
				pts[i].Analytics[j].Overflow.CrossingOverflowM3s = calc.Overflow(&cc, refPeak)
			}
		}
	}
}

// betterReference reports whether candidate should be preferred over cur
// as a crossing's reference point: larger shed area, tie-broken by larger
// max flow length.
func betterReference(candidate, cur drainit.Point) bool {
	if candidate.Shed == nil {
		return false
	}
	if cur.Shed == nil {
		return true
	}
	if candidate.Shed.AreaSqKm != cur.Shed.AreaSqKm {
		return candidate.Shed.AreaSqKm > cur.Shed.AreaSqKm
	}
	return candidate.Shed.MaxFlM > cur.Shed.MaxFlM
}

func peakFlowAt(p drainit.Point, freq int) *float64 {
	for _, a := range p.Analytics {
		if a.Frequency == freq {
			return a.PeakFlow.CulvertPeakFlowM3s
		}
	}
	return nil
}
