// Package tables holds the static lookup tables that the FHWA inlet-control
// capacity equation and the NAACC categorical cross-walk are defined
// against. They are data, not logic, and are kept out of internal/naacc so
// that the decision table can be audited (and regression-tested) on its own.
package tables

import "strings"

// Coefficients is one row of the FHWA inlet-control (c, y) coefficient
// table, keyed by (culvert shape, material, inlet type).
type Coefficients struct {
	C, Y float64
	// Note is a non-fatal annotation attached to the row, e.g. when a
	// shape/material combination falls back to a documented default
	// rather than a value drawn directly from the FHWA chart.
	Note string
}

// DefaultCoefficients is used for any (shape, material, inlet type)
// combination this table does not enumerate. It never carries an error:
// an unrecognized combination falls back silently rather than being
// rejected.
var DefaultCoefficients = Coefficients{C: 0.04, Y: 0.7}

type coeffKey struct {
	shape, material, inlet string
}

// coeffTable is the exhaustive (shape, material, inlet_type) -> (c, y)
// decision table, encoded as data instead of a nested conditional so the
// rows can be read and audited at a glance.
var coeffTable = map[coeffKey]Coefficients{
	{"Arch", "Concrete", "Headwall"}:            {0.041, 0.570, ""},
	{"Arch", "Concrete", "Projecting"}:           {0.041, 0.570, ""},
	{"Arch", "Stone", "Headwall"}:                {0.041, 0.570, ""},
	{"Arch", "Stone", "Projecting"}:              {0.041, 0.570, ""},
	{"Arch", "Concrete", "Mitered to Slope"}:     {0.040, 0.48, ""},
	{"Arch", "Stone", "Mitered to Slope"}:        {0.040, 0.48, ""},
	{"Arch", "Concrete", "Wingwall"}:             {0.040, 0.620, ""},
	{"Arch", "Stone", "Wingwall"}:                {0.040, 0.620, ""},
	{"Arch", "Concrete", "Wingwall and Headwall"}: {0.040, 0.620, ""},
	{"Arch", "Stone", "Wingwall and Headwall"}:    {0.040, 0.620, ""},

	{"Arch", "Plastic", "Mitered to Slope"}:      {0.0540, 0.5, ""},
	{"Arch", "Metal", "Mitered to Slope"}:        {0.0540, 0.5, ""},
	{"Arch", "Plastic", "Projecting"}:            {0.065, 0.12, ""},
	{"Arch", "Metal", "Projecting"}:              {0.065, 0.12, ""},
	{"Arch", "Plastic", "Headwall"}:              {0.0431, 0.610, ""},
	{"Arch", "Metal", "Headwall"}:                {0.0431, 0.610, ""},
	{"Arch", "Plastic", "Wingwall"}:              {0.0431, 0.610, ""},
	{"Arch", "Metal", "Wingwall"}:                {0.0431, 0.610, ""},
	{"Arch", "Plastic", "Wingwall and Headwall"}: {0.0431, 0.610, ""},
	{"Arch", "Metal", "Wingwall and Headwall"}:   {0.0431, 0.610, ""},

	{"Arch", "Combination", "Headwall"}:            {0.045, 0.5, "default c & y"},
	{"Arch", "Combination", "Projecting"}:           {0.045, 0.5, "default c & y"},
	{"Arch", "Combination", "Mitered to Slope"}:     {0.045, 0.5, "default c & y"},
	{"Arch", "Combination", "Wingwall"}:             {0.045, 0.5, "default c & y"},
	{"Arch", "Combination", "Wingwall and Headwall"}: {0.045, 0.5, "default c & y"},

	{"Box", "Concrete", ""}: {0.0378, 0.870, ""},
	{"Box", "Stone", ""}:    {0.0378, 0.870, ""},

	{"Box", "Plastic", "Headwall"}: {0.0379, 0.690, ""},
	{"Box", "Metal", "Headwall"}:   {0.0379, 0.690, ""},
	{"Box", "Plastic", "Wingwall"}: {0.040, 0.620, "default c & y"},
	{"Box", "Metal", "Wingwall"}:   {0.040, 0.620, "default c & y"},

	{"Box", "Wood", ""}: {0.038, 0.87, ""},

	{"Box", "Combination", ""}: {0.038, 0.7, "default c & y"},

	{"Elliptical", "Concrete", ""}: {0.048, 0.80, ""},
	{"Elliptical", "Stone", ""}:    {0.048, 0.80, ""},
	{"Pipe Arch", "Concrete", ""}:  {0.048, 0.80, ""},
	{"Pipe Arch", "Stone", ""}:     {0.048, 0.80, ""},

	{"Elliptical", "Plastic", "Projecting"}: {0.060, 0.75, ""},
	{"Elliptical", "Metal", "Projecting"}:   {0.060, 0.75, ""},
	{"Pipe Arch", "Plastic", "Projecting"}:  {0.060, 0.75, ""},
	{"Pipe Arch", "Metal", "Projecting"}:    {0.060, 0.75, ""},

	{"Elliptical", "Combination", ""}: {0.05, 0.8, "default c & y"},
	{"Pipe Arch", "Combination", ""}:  {0.05, 0.8, "default c & y"},

	{"Round", "Concrete", "Projecting"}: {0.032, 0.69, ""},
	{"Round", "Stone", "Projecting"}:    {0.032, 0.69, ""},

	{"Round", "Plastic", "Projecting"}: {0.055, 0.54, ""},
	{"Round", "Metal", "Projecting"}:   {0.055, 0.54, ""},
	{"Round", "Plastic", "Mitered to Slope"}: {0.046, 0.75, ""},
	{"Round", "Metal", "Mitered to Slope"}:   {0.046, 0.75, ""},

	{"Round", "Combination", ""}: {0.04, 0.65, "default c & y"},
}

// elliptical and pipe-arch fall back to the concrete/stone row above unless
// the material is Plastic/Metal with a Projecting inlet, handled by
// CoefficientsFor's elliptical/plastic fallthrough path.

// CoefficientsFor returns the FHWA (c, y) row for the given shape,
// material, and inlet type, plus a note when one applies. It is total:
// combinations absent from the chart return DefaultCoefficients with no
// error.
func CoefficientsFor(shape, material, inlet string) Coefficients {
	if row, ok := coeffTable[coeffKey{shape, material, inlet}]; ok {
		return row
	}
	// Rows keyed with an empty inlet component apply regardless of the
	// inlet type (concrete/stone box & elliptical/pipe-arch, wood box, and
	// the box, elliptical/pipe-arch and round combination rows).
	if row, ok := coeffTable[coeffKey{shape, material, ""}]; ok {
		return row
	}
	// Round + Concrete|Stone + anything but Projecting uses the same
	// (0.029, 0.74) row; Round + Plastic|Metal + anything but
	// Projecting/Mitered uses (0.038, 0.69).
	switch shape {
	case "Round":
		switch material {
		case "Concrete", "Stone":
			return Coefficients{0.029, 0.74, ""}
		case "Plastic", "Metal":
			return Coefficients{0.038, 0.69, ""}
		}
	case "Box":
		// Box + Plastic|Metal + anything but Headwall/Wingwall falls back
		// to a filler (c, y) rather than DefaultCoefficients.
		switch material {
		case "Plastic", "Metal":
			return Coefficients{0.04, 0.65, "default c & y"}
		}
	case "Elliptical", "Pipe Arch":
		// Elliptical/Pipe Arch + Plastic|Metal + anything but Projecting
		// falls back to the same row as the Concrete/Stone material.
		switch material {
		case "Plastic", "Metal":
			return Coefficients{0.048, 0.80, "default c & y"}
		}
	}
	return DefaultCoefficients
}

// InletShapeCrosswalk maps NAACC's Inlet_Structure_Type values to the
// short shape codes used by the coefficient table.
var InletShapeCrosswalk = map[string]string{
	"Round Culvert":                              "Round",
	"Pipe Arch/Elliptical Culvert":                "Elliptical",
	"Box Culvert":                                 "Box",
	"Box/Bridge with Abutments":                   "Box",
	"Bridge with Abutments and Side Slopes":       "Box",
	"Open Bottom Arch Bridge/Culvert":             "Arch",
}

// InletTypeCrosswalk maps NAACC's Inlet_Type values to the short inlet-type
// codes used by the coefficient table.
var InletTypeCrosswalk = map[string]string{
	"Headwall and Wingwalls": "Wingwall and Headwall",
	"Wingwalls":               "Wingwall",
	"None":                    "Projecting",
}

// CrosswalkShape applies InletShapeCrosswalk, passing through any value it
// does not recognize.
func CrosswalkShape(naaccValue string) string {
	if v, ok := InletShapeCrosswalk[naaccValue]; ok {
		return v
	}
	return naaccValue
}

// CrosswalkInletType applies InletTypeCrosswalk, passing through any value
// it does not recognize.
func CrosswalkInletType(naaccValue string) string {
	if v, ok := InletTypeCrosswalk[naaccValue]; ok {
		return v
	}
	return naaccValue
}

// IsCulvertCrossingType reports whether crossingType is a recognized
// culvert crossing type (case-insensitive).
func IsCulvertCrossingType(crossingType string) bool {
	switch strings.ToLower(strings.TrimSpace(crossingType)) {
	case "culvert", "multiple culvert":
		return true
	}
	return false
}
