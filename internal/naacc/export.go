package naacc

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/civicmapper/drainit"
)

// exportColumns are the columns written by WriteSplit, covering the NAACC
// source fields plus the derived include/validation-error columns.
var exportColumns = []string{
	"naacc_id", "survey_id", "lat", "lng", "crossing_type",
	"in_shape", "culv_mat", "in_type", "culvert_capacity", "include",
	"validation_errors",
}

// WriteSplit writes points as two CSVs — one holding Include==true rows,
// the other Include==false rows — so downstream review tools can treat
// clean and rejected records separately. It does not name any files: the
// caller chooses both destinations, and the ingest command writes the
// valid rows to its --output path and the invalid rows to that path with
// ".invalid.csv" appended.
func WriteSplit(points []drainit.Point, validW, invalidW io.Writer) error {
	vw := csv.NewWriter(validW)
	iw := csv.NewWriter(invalidW)
	defer vw.Flush()
	defer iw.Flush()

	if err := vw.Write(exportColumns); err != nil {
		return err
	}
	if err := iw.Write(exportColumns); err != nil {
		return err
	}
	for _, p := range points {
		row := rowFor(p)
		var err error
		if p.Include {
			err = vw.Write(row)
		} else {
			err = iw.Write(row)
		}
		if err != nil {
			return fmt.Errorf("naacc: writing export row for %s: %w", p.UID, err)
		}
	}
	return nil
}

func rowFor(p drainit.Point) []string {
	capacity := ""
	if p.Capacity.CulvertCapacity != nil {
		capacity = strconv.FormatFloat(*p.Capacity.CulvertCapacity, 'g', -1, 64)
	}
	errs := ""
	for field, reasons := range p.ValidationErrors {
		for _, r := range reasons {
			if errs != "" {
				errs += "; "
			}
			errs += field + ": " + r
		}
	}
	return []string{
		p.Naacc.NaaccID,
		p.Naacc.SurveyID,
		strconv.FormatFloat(p.Naacc.Lat, 'g', -1, 64),
		strconv.FormatFloat(p.Naacc.Lng, 'g', -1, 64),
		p.Naacc.CrossingType,
		p.Capacity.InShape,
		p.Capacity.CulvMat,
		p.Capacity.InType,
		capacity,
		strconv.FormatBool(p.Include),
		errs,
	}
}
