// Package workflow composes the ingest, delineation, analytics, and
// output stages into a single-entry-point capacity run: load points,
// hydrate culvert capacity, delineate watersheds and compute zonal
// statistics, run peak-flow analytics and crossing aggregation, then
// flatten and write outputs.
//
// User-defined output columns are evaluated with
// github.com/Knetic/govaluate: each expression is parsed once per row and
// evaluated against that row's variable map.
package workflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/sirupsen/logrus"

	"github.com/civicmapper/drainit"
	"github.com/civicmapper/drainit/internal/analytics"
	"github.com/civicmapper/drainit/internal/calc"
	"github.com/civicmapper/drainit/internal/geoproc"
	"github.com/civicmapper/drainit/internal/naacc"
	"github.com/civicmapper/drainit/internal/shed"
)

// toCalcMethod converts the JSON-facing drainit.RainRatioMethod into the
// calc package's distinct (but numerically identical) enum. The two types
// are kept separate so internal/calc has no dependency on the root
// package's JSON-tagged config types.
func toCalcMethod(m drainit.RainRatioMethod) calc.RainRatioMethod {
	if m == drainit.RainRatioDiscrete {
		return calc.RainRatioDiscrete
	}
	return calc.RainRatioContinuous
}

// Manager runs one capacity-workflow invocation end to end.
type Manager struct {
	Backend    geoproc.Backend
	NumWorkers int
}

// scratch is the scoped acquisition of the per-run temporary workspace.
// A directory that acquireScratch created itself is removed by release;
// a configured directory is left in place.
type scratch struct {
	dir   string
	owned bool
}

func acquireScratch(configured string) (*scratch, error) {
	if configured != "" {
		if err := os.MkdirAll(configured, 0o755); err != nil {
			return nil, fmt.Errorf("workflow: creating scratch dir %q: %w", configured, err)
		}
		return &scratch{dir: configured, owned: false}, nil
	}
	dir, err := os.MkdirTemp("", "drainit-")
	if err != nil {
		return nil, fmt.Errorf("workflow: creating scratch workspace: %w", err)
	}
	return &scratch{dir: dir, owned: true}, nil
}

func (s *scratch) release() {
	if s.owned {
		os.RemoveAll(s.dir)
	}
}

// Run executes the capacity workflow described by cfg and returns the
// finished points. It is a workflow-level failure for any input raster,
// points file, or rainfall config to be missing or unreadable; those
// abort the run immediately. Per-row problems never do.
func (m *Manager) Run(ctx context.Context, cfg *drainit.WorkflowConfig) ([]drainit.Point, error) {
	log := logrus.WithField("points", cfg.PointsFilepath)
	log.Info("workflow: starting capacity run")

	scr, err := acquireScratch(cfg.ScratchDir)
	if err != nil {
		return nil, err
	}
	defer scr.release()

	// Ingest points and derive on-the-fly culvert capacity.
	f, err := os.Open(cfg.PointsFilepath)
	if err != nil {
		return nil, fmt.Errorf("workflow: opening points file %q: %w", cfg.PointsFilepath, err)
	}
	points, err := naacc.ReadCSV(f, naacc.Options{
		SpatialRefCode: cfg.PointsSpatialRefCode,
	})
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("workflow: ingesting points: %w", err)
	}
	log.WithField("count", len(points)).Info("workflow: ingest complete")

	// Load input rasters up front: a missing raster is a workflow-level
	// failure, so surface it before any per-point work starts.
	flowdir, err := m.Backend.ReadRaster(ctx, cfg.RasterFlowdirFilepath)
	if err != nil {
		return nil, fmt.Errorf("workflow: reading flow-direction raster: %w", err)
	}
	slope, err := m.Backend.ReadRaster(ctx, cfg.RasterSlopeFilepath)
	if err != nil {
		return nil, fmt.Errorf("workflow: reading slope raster: %w", err)
	}
	curveNumber, err := m.Backend.ReadRaster(ctx, cfg.RasterCurvenumberFilepath)
	if err != nil {
		return nil, fmt.Errorf("workflow: reading curve-number raster: %w", err)
	}
	var flowlen *geoproc.Raster
	if cfg.RasterFlowlenFilepath != "" {
		flowlen, err = m.Backend.ReadRaster(ctx, cfg.RasterFlowlenFilepath)
		if err != nil {
			return nil, fmt.Errorf("workflow: reading flow-length raster: %w", err)
		}
	}

	rainCfg := cfg.PrecipSrcConfig
	if rainCfg == nil {
		rainCfg, err = drainit.LoadRainfallRasterConfig(cfg.PrecipSrcConfigFilepath)
		if err != nil {
			return nil, fmt.Errorf("workflow: loading rainfall raster config: %w", err)
		}
	}
	rainRasters := make(map[int]*geoproc.Raster, len(rainCfg.Rasters))
	var rainUnits string
	for _, rr := range rainCfg.Rasters {
		path := rr.Path
		if rainCfg.Root != "" {
			path = filepath.Join(rainCfg.Root, rr.Path)
		}
		r, err := m.Backend.ReadRaster(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("workflow: reading rainfall raster (freq %d) %q: %w", rr.Freq, path, err)
		}
		rainRasters[rr.Freq] = r
		rainUnits = rr.Units
	}

	// Delineate watersheds and compute zonal statistics, bounded parallelism.
	numWorkers := m.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	shedDriver := shed.NewDriver(shed.Inputs{
		Backend:        m.Backend,
		FlowDir:        flowdir,
		Slope:          slope,
		CurveNumber:    curveNumber,
		FlowLen:        flowlen,
		Rainfall:       rainRasters,
		RainfallUnit:   rainUnits,
		AreaConvFactor: cfg.AreaConvFactor,
		LengConvFactor: cfg.LengConvFactor,
		Simplify:       cfg.ShedsSimplify,
	}, numWorkers)

	points, err = shedDriver.Run(ctx, points)
	if err != nil {
		return nil, fmt.Errorf("workflow: delineation: %w", err)
	}

	// Run peak-flow analytics and crossing aggregation.
	ad := &analytics.Driver{Method: toCalcMethod(cfg.RainRatioMethod)}
	points, err = ad.Run(points)
	if err != nil {
		return nil, fmt.Errorf("workflow: analytics: %w", err)
	}

	// Write outputs.
	if cfg.OutputPointsFilepath != "" {
		if err := m.writePoints(ctx, cfg, points); err != nil {
			return nil, fmt.Errorf("workflow: writing points output: %w", err)
		}
	}
	if cfg.OutputShedsFilepath != "" {
		if err := m.writeSheds(ctx, cfg, points); err != nil {
			return nil, fmt.Errorf("workflow: writing sheds output: %w", err)
		}
	}

	log.Info("workflow: capacity run complete")
	return points, nil
}

// outputColumns is the fixed prefix of flattened columns, in order:
// NAACC fields, capacity fields, shed fields.
var outputColumns = []string{
	"uid", "group_id", "include",
	"naacc_id", "survey_id", "crossing_type",
	"culvert_capacity", "crossing_capacity", "max_return_period",
	"shed_area_sqkm", "shed_avg_slope_pct", "shed_avg_cn", "shed_max_fl",
}

// writePoints flattens points into a CSV (fixed columns plus
// per-frequency y{freq}_ppf_m3s/xpf_m3s/pof_m3s/xof_m3s columns, plus any
// user-defined derived columns) and writes them to
// cfg.OutputPointsFilepath. A path with an "s3://" prefix is uploaded via
// the S3 writer instead of written locally.
func (m *Manager) writePoints(ctx context.Context, cfg *drainit.WorkflowConfig, points []drainit.Point) error {
	freqs := collectFrequencies(points)

	derivedNames := make([]string, 0, len(cfg.DerivedFieldExprs))
	for name := range cfg.DerivedFieldExprs {
		derivedNames = append(derivedNames, name)
	}
	sort.Strings(derivedNames)

	write := func(w io.Writer) error {
		header := make([]string, 0, len(outputColumns)+4*len(freqs)+len(derivedNames))
		header = append(header, outputColumns...)
		for _, f := range freqs {
			header = append(header,
				fmt.Sprintf("y%d_ppf_m3s", f), fmt.Sprintf("y%d_xpf_m3s", f),
				fmt.Sprintf("y%d_pof_m3s", f), fmt.Sprintf("y%d_xof_m3s", f))
		}
		header = append(header, derivedNames...)
		if _, err := fmt.Fprintln(w, strings.Join(header, ",")); err != nil {
			return err
		}
		for _, p := range points {
			row, err := flattenRow(p, freqs, derivedNames, cfg.DerivedFieldExprs)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, strings.Join(row, ",")); err != nil {
				return err
			}
		}
		return nil
	}

	if strings.HasPrefix(cfg.OutputPointsFilepath, "s3://") {
		return writeS3(ctx, cfg.OutputPointsFilepath, write)
	}
	f, err := os.Create(cfg.OutputPointsFilepath)
	if err != nil {
		return err
	}
	defer f.Close()
	return write(f)
}

// writeSheds merges each point's delineated watershed polygon, keyed by
// uid, into a single dataset at cfg.OutputShedsFilepath. Unlike
// writePoints, this output is a multi-file
// shapefile dataset rather than a single byte stream, so (unlike points)
// it cannot be routed through writeS3 — an s3:// destination here is a
// workflow-level configuration error.
func (m *Manager) writeSheds(ctx context.Context, cfg *drainit.WorkflowConfig, points []drainit.Point) error {
	if strings.HasPrefix(cfg.OutputShedsFilepath, "s3://") {
		return fmt.Errorf("workflow: output-sheds does not support s3:// destinations (shapefiles are multi-file datasets)")
	}
	polys := make(map[string]geoproc.Polygon)
	for _, p := range points {
		if p.Shed == nil || p.Shed.VectorPath == "" {
			continue
		}
		polys[p.UID] = geoproc.Polygon{Path: p.Shed.VectorPath}
	}
	if len(polys) == 0 {
		return nil
	}
	return m.Backend.MergeSheds(ctx, polys, cfg.OutputShedsFilepath)
}

func collectFrequencies(points []drainit.Point) []int {
	seen := make(map[int]bool)
	for _, p := range points {
		for _, a := range p.Analytics {
			seen[a.Frequency] = true
		}
	}
	freqs := make([]int, 0, len(seen))
	for f := range seen {
		freqs = append(freqs, f)
	}
	sort.Ints(freqs)
	return freqs
}

func formatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func flattenRow(p drainit.Point, freqs []int, derivedNames []string, derivedExprs map[string]string) ([]string, error) {
	row := []string{
		p.UID, p.GroupID, strconv.FormatBool(p.Include),
		p.Naacc.NaaccID, p.Naacc.SurveyID, p.Naacc.CrossingType,
		formatPtr(p.Capacity.CulvertCapacity), formatPtr(p.Capacity.CrossingCapacity),
		maxReturnPeriodString(p.Capacity.MaxReturnPeriod),
	}
	if p.Shed != nil {
		row = append(row,
			strconv.FormatFloat(p.Shed.AreaSqKm, 'g', -1, 64),
			strconv.FormatFloat(p.Shed.AvgSlopePct, 'g', -1, 64),
			strconv.FormatFloat(p.Shed.AvgCN, 'g', -1, 64),
			strconv.FormatFloat(p.Shed.MaxFlM, 'g', -1, 64),
		)
	} else {
		row = append(row, "", "", "", "")
	}

	byFreq := make(map[int]drainit.Analytics, len(p.Analytics))
	for _, a := range p.Analytics {
		byFreq[a.Frequency] = a
	}
	for _, f := range freqs {
		a, ok := byFreq[f]
		if !ok {
			row = append(row, "", "", "", "")
			continue
		}
		row = append(row,
			formatPtr(a.PeakFlow.CulvertPeakFlowM3s), formatPtr(a.PeakFlow.CrossingPeakFlowM3s),
			formatPtr(a.Overflow.CulvertOverflowM3s), formatPtr(a.Overflow.CrossingOverflowM3s),
		)
	}

	if len(derivedNames) > 0 {
		vals, err := evaluateDerivedFields(p, derivedNames, derivedExprs)
		if err != nil {
			return nil, err
		}
		row = append(row, vals...)
	}
	return row, nil
}

func maxReturnPeriodString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// evaluateDerivedFields evaluates each of cfg.DerivedFieldExprs against
// one variable-name-to-value map per row, calling govaluate.Evaluate(map)
// once per expression. The variables are culvert_capacity,
// crossing_capacity, shed_area_sqkm, shed_avg_slope_pct, shed_avg_cn and
// shed_max_fl; an expression that fails to evaluate yields an empty cell.
func evaluateDerivedFields(p drainit.Point, names []string, exprs map[string]string) ([]string, error) {
	vars := map[string]interface{}{
		"culvert_capacity":  safeDeref(p.Capacity.CulvertCapacity),
		"crossing_capacity": safeDeref(p.Capacity.CrossingCapacity),
		"shed_area_sqkm":    0.0,
		"shed_avg_slope_pct": 0.0,
		"shed_avg_cn":       0.0,
		"shed_max_fl":       0.0,
	}
	if p.Shed != nil {
		vars["shed_area_sqkm"] = p.Shed.AreaSqKm
		vars["shed_avg_slope_pct"] = p.Shed.AvgSlopePct
		vars["shed_avg_cn"] = p.Shed.AvgCN
		vars["shed_max_fl"] = p.Shed.MaxFlM
	}

	out := make([]string, len(names))
	for i, name := range names {
		expr, err := govaluate.NewEvaluableExpression(exprs[name])
		if err != nil {
			return nil, fmt.Errorf("workflow: parsing derived field %q: %w", name, err)
		}
		result, err := expr.Evaluate(vars)
		if err != nil {
			out[i] = ""
			continue
		}
		switch v := result.(type) {
		case float64:
			out[i] = strconv.FormatFloat(v, 'g', -1, 64)
		default:
			out[i] = fmt.Sprintf("%v", v)
		}
	}
	return out, nil
}

func safeDeref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
