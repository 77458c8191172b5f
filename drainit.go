// Package drainit computes per-culvert hydraulic capacity and per-watershed
// peak storm runoff for road-stream crossings, and combines the two into an
// overflow measure and a maximum safely-passed storm return period.
//
// The package holds the data model shared by the NAACC ingest pipeline, the
// watershed-delineation driver, and the hydrologic/hydraulic calculators;
// those live in internal/naacc, internal/shed, internal/analytics and
// internal/calc and are wired together by internal/workflow.
package drainit

import "sort"

// NaaccCulvert is a raw, validated field-survey record following the NAACC
// (North American Aquatic Connectivity Collaborative) schema. Once built by
// the ingest pipeline it is immutable.
type NaaccCulvert struct {
	NaaccID                 string  `json:"naacc_id"`
	SurveyID                string  `json:"survey_id"`
	Lat                     float64 `json:"lat"`
	Lng                     float64 `json:"lng"`
	SpatialRefCode          int     `json:"spatial_ref_code"` // default 4326 (WGS84)
	NumberOfCulverts        int     `json:"number_of_culverts"`
	Material                string  `json:"material"`
	InletType               string  `json:"inlet_type"`
	InletStructureType      string  `json:"inlet_structure_type"`
	InletWidth              float64 `json:"inlet_width"`  // feet, as surveyed
	InletHeight             float64 `json:"inlet_height"` // feet, as surveyed
	RoadFillHeight          float64 `json:"road_fill_height"`
	SlopePercent            float64 `json:"slope_percent"`
	CrossingStructureLength float64 `json:"crossing_structure_length"`
	OutletStructureType     string  `json:"outlet_structure_type"`
	OutletWidth             float64 `json:"outlet_width"`
	OutletHeight            float64 `json:"outlet_height"`
	CrossingType            string  `json:"crossing_type"`

	Road             string `json:"road,omitempty"`
	CrossingComment  string `json:"crossing_comment,omitempty"`
}

// Capacity is the derived culvert-hydraulics record computed from a
// NaaccCulvert: unit-converted geometry, FHWA coefficients, and the
// resulting flow capacities.
type Capacity struct {
	// Cross-walked short-name fields (copied from NaaccCulvert, some
	// re-expressed through the categorical cross-walk).
	CulvMat  string  `json:"culv_mat"`
	InType   string  `json:"in_type"`
	InShape  string  `json:"in_shape"`
	InA      float64 `json:"in_a"` // metres
	InB      float64 `json:"in_b"` // metres
	HW       float64 `json:"hw"`   // metres
	Slope    float64 `json:"slope"`
	Length   float64 `json:"length"` // metres
	OutShape string  `json:"out_shape"`
	OutA     float64 `json:"out_a"` // metres
	OutB     float64 `json:"out_b"` // metres
	XingType string  `json:"xing_type"`

	// Derived geometry and coefficients.
	CulvertAreaSqm  float64 `json:"culvert_area_sqm"`
	CulvertDepthM   float64 `json:"culvert_depth_m"`
	CoefficientC    float64 `json:"coefficient_c"`
	CoefficientY    float64 `json:"coefficient_y"`
	CoefficientKs   float64 `json:"coefficient_ks"`
	SlopeRR         float64 `json:"slope_rr"`
	HeadOverInvert  float64 `json:"head_over_invert"`

	Comments string `json:"comments,omitempty"`
	Include  bool   `json:"include"`

	// Analytics.
	CulvertCapacity  *float64 `json:"culvert_capacity"`  // m3/s, nil if undefined
	CrossingCapacity *float64 `json:"crossing_capacity"` // m3/s
	MaxReturnPeriod  *int     `json:"max_return_period"` // years
}

// Rainfall is one rainfall-depth sample for a given return-period frequency
// and storm duration.
type Rainfall struct {
	Freq  int     `json:"freq"` // years
	Dur   string  `json:"dur"`  // e.g. "24hr"
	Value float64 `json:"value"`
	Units string  `json:"units"` // e.g. "inches/1000"
}

// Shed is the catchment delineated for one surveyed point.
type Shed struct {
	UID         string     `json:"uid"`
	GroupID     string     `json:"group_id"`
	AreaSqKm    float64    `json:"area_sqkm"`
	AvgSlopePct float64    `json:"avg_slope_pct"`
	AvgCN       float64    `json:"avg_cn"`
	MaxFlM      float64    `json:"max_fl"` // metres
	AvgRainfall []Rainfall `json:"avg_rainfall"`
	TcHr        float64    `json:"tc_hr"`

	RasterPath string `json:"raster_path,omitempty"`
	VectorPath string `json:"vector_path,omitempty"`
}

// PeakFlow holds the three runoff-calculator outputs for one return-period
// frequency at one point.
type PeakFlow struct {
	TcHr               float64  `json:"tc_hr"`
	CulvertPeakFlowM3s *float64 `json:"culvert_peakflow_m3s"`
	CrossingPeakFlowM3s *float64 `json:"crossing_peakflow_m3s"`
}

// Overflow holds capacity-minus-peak-flow for one return-period frequency.
type Overflow struct {
	CulvertOverflowM3s  *float64 `json:"culvert_overflow_m3s"`
	CrossingOverflowM3s *float64 `json:"crossing_overflow_m3s"`
}

// Analytics is the per-frequency, per-point bundle of rainfall, peak flow,
// and overflow.
type Analytics struct {
	Frequency      int      `json:"frequency"`
	Duration       string   `json:"duration"`
	AvgRainfallCm  float64  `json:"avg_rainfall_cm"`
	PeakFlow       PeakFlow `json:"peakflow"`
	Overflow       Overflow `json:"overflow"`
}

// SortAnalytics sorts a, in place, ascending by Frequency, so consumers
// can always rely on analytics appearing in increasing return-period
// order.
func SortAnalytics(a []Analytics) {
	sort.Slice(a, func(i, j int) bool { return a[i].Frequency < a[j].Frequency })
}

// Point is the central aggregate: one surveyed culvert, its derived
// capacity, its delineated shed (once computed), and its per-frequency
// analytics.
type Point struct {
	UID     string `json:"uid"`
	GroupID string `json:"group_id"`

	Naacc    NaaccCulvert `json:"naacc"`
	Capacity Capacity     `json:"capacity"`
	Shed     *Shed        `json:"shed,omitempty"`

	Analytics []Analytics `json:"analytics,omitempty"`

	Include          bool                `json:"include"`
	ValidationErrors map[string][]string `json:"validation_errors,omitempty"`
	Notes            []string            `json:"notes,omitempty"`
}

// AddValidationError records reason under field, and forces Include to
// false. Validation errors are data, not control flow: this never panics
// or returns an error.
func (p *Point) AddValidationError(field, reason string) {
	if p.ValidationErrors == nil {
		p.ValidationErrors = make(map[string][]string)
	}
	p.ValidationErrors[field] = append(p.ValidationErrors[field], reason)
	p.Include = false
	p.Capacity.Include = false
}

// AddNote records a non-fatal substitution or default-assignment note. It
// never affects Include.
func (p *Point) AddNote(note string) {
	p.Notes = append(p.Notes, note)
}
