// Package naacc implements the NAACC ingest, validation, and hydration
// pipeline: reading a NAACC-schema table, type-casting and validating its
// required fields, cross-walking its categorical fields, deriving FHWA
// capacity parameters, and computing per-culvert capacity.
//
// Every stage is total: a bad row never aborts the read. Problems
// accumulate on the row's drainit.Point.ValidationErrors map and flip
// Include to false, so one malformed record never discards an otherwise
// good batch.
package naacc

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/civicmapper/drainit"
	"github.com/civicmapper/drainit/internal/calc"
	"github.com/civicmapper/drainit/internal/tables"
)

// requiredFields are the 15 NAACC columns required to build a
// NaaccCulvert, in header form.
var requiredFields = []string{
	"Naacc_Culvert_Id", "Survey_Id", "GIS_Latitude", "GIS_Longitude",
	"Number_Of_Culverts", "Material", "Inlet_Type", "Inlet_Structure_Type",
	"Inlet_Width", "Inlet_Height", "Road_Fill_Height", "Slope_Percent",
	"Crossing_Structure_Length", "Outlet_Structure_Type", "Crossing_Type",
}

// Options configures ReadCSV.
type Options struct {
	// SpatialRefCode is the coordinate reference system WKID the input
	// lat/lng values are in. Defaults to 4326 (WGS84).
	SpatialRefCode int
	// XField, YField name the longitude/latitude columns. Default
	// "GIS_Longitude"/"GIS_Latitude".
	XField, YField string
}

func (o *Options) fillDefaults() {
	if o.SpatialRefCode == 0 {
		o.SpatialRefCode = 4326
	}
	if o.XField == "" {
		o.XField = "GIS_Longitude"
	}
	if o.YField == "" {
		o.YField = "GIS_Latitude"
	}
}

// ReadCSV runs the full ingest pipeline over a NAACC CSV and returns one
// drainit.Point per row, in source order. It never returns an error for
// row-level problems; those are recorded per-point. It returns an error
// only if r cannot be read as a CSV at all.
func ReadCSV(r io.Reader, opts Options) ([]drainit.Point, error) {
	opts.fillDefaults()
	rows, header, err := readCSVStripBOM(r)
	if err != nil {
		return nil, fmt.Errorf("naacc: reading csv: %w", err)
	}
	points := make([]drainit.Point, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = row[i]
			}
		}
		points = append(points, buildPoint(rec, opts))
	}
	logrus.WithField("rows", len(points)).Info("naacc: ingest complete")
	return points, nil
}

// readCSVStripBOM reads a CSV, detecting and stripping a leading UTF-8
// byte-order mark. Empty fields become empty strings (callers treat ""
// as null throughout).
func readCSVStripBOM(r io.Reader) (rows [][]string, header []string, err error) {
	br := newBOMStrippingReader(r)
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("empty csv: no header row")
	}
	return all[1:], all[0], nil
}

const bom = rune(0xFEFF)

// bomStrippingReader strips a single leading UTF-8 BOM, if present.
type bomStrippingReader struct {
	r       io.Reader
	checked bool
	buf     []byte
}

func newBOMStrippingReader(r io.Reader) io.Reader {
	return &bomStrippingReader{r: r}
}

func (b *bomStrippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head := make([]byte, utf8.UTFMax)
		n, err := io.ReadFull(b.r, head)
		head = head[:n]
		if r, size := utf8.DecodeRune(head); r == bom && size > 0 {
			head = head[size:]
		}
		b.buf = head
		if err != nil && err != io.ErrUnexpectedEOF {
			return 0, err
		}
	}
	if len(b.buf) > 0 {
		n := copy(p, b.buf)
		b.buf = b.buf[n:]
		return n, nil
	}
	return b.r.Read(p)
}

// buildPoint runs the required-field, geometry, and crosswalk validation
// stages over one raw row, then derives its culvert capacity.
func buildPoint(rec map[string]string, opts Options) drainit.Point {
	p := drainit.Point{Include: true, Capacity: drainit.Capacity{Include: true}}

	p.UID = rec["Naacc_Culvert_Id"]
	p.GroupID = rec["Survey_Id"]

	// Stage 2: schema validation — required fields present and
	// numeric-castable.
	for _, f := range requiredFields {
		if strings.TrimSpace(rec[f]) == "" {
			p.AddValidationError(f, "missing required field")
		}
	}

	naacc := drainit.NaaccCulvert{
		NaaccID:                 rec["Naacc_Culvert_Id"],
		SurveyID:                rec["Survey_Id"],
		Material:                rec["Material"],
		InletType:               rec["Inlet_Type"],
		InletStructureType:      rec["Inlet_Structure_Type"],
		OutletStructureType:     rec["Outlet_Structure_Type"],
		CrossingType:            rec["Crossing_Type"],
		Road:                    rec["Road"],
		CrossingComment:         rec["Crossing_Comment"],
		SpatialRefCode:          opts.SpatialRefCode,
	}
	naacc.Lat = parseFloatField(&p, opts.YField, rec[opts.YField])
	naacc.Lng = parseFloatField(&p, opts.XField, rec[opts.XField])
	naacc.NumberOfCulverts = int(parseFloatField(&p, "Number_Of_Culverts", rec["Number_Of_Culverts"]))
	if naacc.NumberOfCulverts < 1 {
		naacc.NumberOfCulverts = 1
	}
	naacc.InletWidth = parseFloatField(&p, "Inlet_Width", rec["Inlet_Width"])
	naacc.InletHeight = parseFloatField(&p, "Inlet_Height", rec["Inlet_Height"])
	naacc.RoadFillHeight = parseFloatField(&p, "Road_Fill_Height", rec["Road_Fill_Height"])
	naacc.SlopePercent = parseFloatField(&p, "Slope_Percent", rec["Slope_Percent"])
	naacc.CrossingStructureLength = parseFloatField(&p, "Crossing_Structure_Length", rec["Crossing_Structure_Length"])
	naacc.OutletWidth = parseFloatField(&p, "Outlet_Width", rec["Outlet_Width"])
	naacc.OutletHeight = parseFloatField(&p, "Outlet_Height", rec["Outlet_Height"])
	p.Naacc = naacc

	// Stage 3+4: extend schema, cross-walk categories.
	cap := drainit.Capacity{
		CulvMat:  naacc.Material,
		InType:   tables.CrosswalkInletType(naacc.InletType),
		InShape:  tables.CrosswalkShape(naacc.InletStructureType),
		InA:      naacc.InletWidth,
		InB:      naacc.InletHeight,
		HW:       naacc.RoadFillHeight,
		Slope:    naacc.SlopePercent,
		Length:   naacc.CrossingStructureLength,
		OutShape: tables.CrosswalkShape(naacc.OutletStructureType),
		OutA:     naacc.OutletWidth,
		OutB:     naacc.OutletHeight,
		XingType: naacc.CrossingType,
		Include:  true,
	}

	// Stage 5: culvert-geometry tests.
	if !tables.IsCulvertCrossingType(naacc.CrossingType) {
		p.AddValidationError("crossing_type", fmt.Sprintf("not a recognized culvert crossing type (%s)", naacc.CrossingType))
	}
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"in_a", cap.InA}, {"in_b", cap.InB}, {"hw", cap.HW}, {"length", cap.Length},
	} {
		if math.IsNaN(f.val) {
			p.AddValidationError(f.name, "cannot be None")
		} else if f.val < 0 {
			p.AddValidationError(f.name, fmt.Sprintf("must not be negative (%v)", f.val))
		}
	}
	slopeSubstituted := false
	if naacc.SlopePercent == -1 || math.IsNaN(naacc.SlopePercent) {
		slopeSubstituted = true
		p.AddNote("slope missing (-1); assuming 0")
	}

	cap.Include = p.Include
	p.Capacity = cap

	// Stage 6-7: derive capacity parameters and compute capacity.
	deriveCapacity(&p, slopeSubstituted)

	// Stage 8: finalize include flag.
	p.Capacity.Include = p.Include
	return p
}

func parseFloatField(p *drainit.Point, field, raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.AddValidationError(field, fmt.Sprintf("could not cast %q to a number", raw))
		return math.NaN()
	}
	return v
}

// deriveCapacity converts inputs to metric and, for included points,
// derives culvert geometry and coefficients and computes capacity. If p
// is already excluded, only unit conversion runs (best-effort, for
// partial output).
func deriveCapacity(p *drainit.Point, slopeSubstituted bool) {
	cap := &p.Capacity

	toMetres := func(v float64) float64 {
		if math.IsNaN(v) || v < 0 {
			return math.NaN()
		}
		return calc.FeetToMetres(v)
	}
	cap.Length = toMetres(cap.Length)
	cap.InA = toMetres(cap.InA)
	cap.InB = toMetres(cap.InB)
	cap.HW = toMetres(cap.HW)
	cap.OutA = toMetres(cap.OutA)
	cap.OutB = toMetres(cap.OutB)

	if !p.Include {
		return
	}

	if slopeSubstituted {
		cap.SlopeRR = 0
	} else {
		cap.SlopeRR = cap.Slope / 100
	}

	switch cap.InShape {
	case "Round":
		cap.CulvertAreaSqm = (cap.InA / 2) * (cap.InA / 2) * math.Pi
		cap.CulvertDepthM = cap.InA
	case "Elliptical", "Pipe Arch":
		cap.CulvertAreaSqm = (cap.InA / 2) * (cap.InB / 2) * math.Pi
		cap.CulvertDepthM = cap.InB
	case "Box":
		cap.CulvertAreaSqm = cap.InA * cap.InB
		cap.CulvertDepthM = cap.InB
	case "Arch":
		cap.CulvertAreaSqm = ((cap.InA / 2) * (cap.InB / 2) * math.Pi) / 2
		cap.CulvertDepthM = cap.InB
	default:
		// Underdetermined shape: area/depth stay zero, capacity will
		// resolve to nil via calc.CulvertCapacity's depth==0 guard.
		p.AddNote(fmt.Sprintf("in_shape has unrecognized value %q; capacity left undefined", cap.InShape))
	}

	cap.HeadOverInvert = cap.HW + cap.CulvertDepthM

	if cap.InType == "Mitered to Slope" {
		cap.CoefficientKs = 0.7
	} else {
		cap.CoefficientKs = -0.5
	}

	coeff := tables.CoefficientsFor(cap.InShape, cap.CulvMat, cap.InType)
	cap.CoefficientC = coeff.C
	cap.CoefficientY = coeff.Y
	if coeff.Note != "" {
		p.AddNote(coeff.Note)
	}

	cap.CulvertCapacity = calc.CulvertCapacity(
		cap.CulvertAreaSqm, cap.CulvertDepthM, cap.HeadOverInvert,
		cap.SlopeRR, cap.CoefficientC, cap.CoefficientY, cap.CoefficientKs,
	)
	cap.CrossingCapacity = cap.CulvertCapacity
}
