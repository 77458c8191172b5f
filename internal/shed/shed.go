// Package shed drives per-point watershed delineation and zonal
// statistics: for each drainit.Point it delineates the catchment draining
// to the culvert's inlet, computes the catchment area, mean slope, mean
// curve number, maximum flow length, and per-frequency mean rainfall,
// and fills in the Point's Shed field.
//
// Points are processed concurrently through a bounded worker pool built
// on github.com/ctessum/requestcache, an on-demand cache that farms work
// out across a fixed number of workers while deduplicating repeat
// requests for the same point.
package shed

import (
	"context"
	"fmt"

	"github.com/ctessum/requestcache"

	"github.com/civicmapper/drainit"
	"github.com/civicmapper/drainit/internal/geoproc"
)

// Inputs bundles the shared rasters every point's delineation runs
// against.
type Inputs struct {
	Backend      geoproc.Backend
	FlowDir      *geoproc.Raster
	Slope        *geoproc.Raster
	CurveNumber  *geoproc.Raster
	// FlowLen is the optional precomputed upstream flow-length raster
	// (WorkflowConfig.RasterFlowlenFilepath). When set, flowLength clips it
	// by the catchment and takes raster.max - raster.min instead of
	// deriving flow length from FlowDir.
	FlowLen      *geoproc.Raster
	Rainfall     map[int]*geoproc.Raster // by return-period frequency
	RainfallUnit string

	AreaConvFactor float64
	LengConvFactor float64
	Simplify       bool
}

// Driver runs shed delineation for a batch of points, bounding
// concurrency to NumWorkers via a requestcache.Cache.
type Driver struct {
	in    Inputs
	cache *requestcache.Cache
}

// NewDriver builds a Driver whose delineation work is spread across
// numWorkers goroutines, deduplicating in-flight requests for the same
// point UID and keeping finished results in a bounded in-memory cache —
// a re-run of the same point UID within one Driver's lifetime is served
// from cache instead of re-delineated.
func NewDriver(in Inputs, numWorkers int) *Driver {
	d := &Driver{in: in}
	d.cache = requestcache.NewCache(d.process, numWorkers,
		requestcache.Deduplicate(), requestcache.Memory(4096))
	return d
}

// Run delineates a shed for every point in pts concurrently, returning a
// new slice in the same order. A point already excluded (Include==false)
// is passed through unmodified. The first delineation error aborts the
// whole batch: shed delineation is a workflow-level operation, not a
// row-level one, so a failure here is a hard error, not an accumulated
// validation note.
func (d *Driver) Run(ctx context.Context, pts []drainit.Point) ([]drainit.Point, error) {
	out := make([]drainit.Point, len(pts))
	reqs := make([]*requestcache.Request, len(pts))
	for i, p := range pts {
		out[i] = p
		if !p.Include {
			continue
		}
		reqs[i] = d.cache.NewRequest(ctx, p, p.UID)
	}
	for i, req := range reqs {
		if req == nil {
			continue
		}
		res, err := req.Result()
		if err != nil {
			return nil, fmt.Errorf("shed: delineating %s: %w", pts[i].UID, err)
		}
		out[i] = res.(drainit.Point)
	}
	return out, nil
}

// process is the requestcache.ProcessFunc: it delineates and computes
// zonal statistics for a single point.
func (d *Driver) process(ctx context.Context, payload interface{}) (interface{}, error) {
	p := payload.(drainit.Point)
	var result drainit.Point
	err := d.in.Backend.WithRasterEnvironment(ctx, d.in.FlowDir, func(ctx context.Context) error {
		var err error
		result, err = d.delineateOne(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Driver) delineateOne(ctx context.Context, p drainit.Point) (drainit.Point, error) {
	pour := geoproc.PourPoint{
		UID: p.UID, GroupID: p.GroupID,
		X: p.Naacc.Lng, Y: p.Naacc.Lat, CRSCode: p.Naacc.SpatialRefCode,
	}

	catchment, err := d.in.Backend.Delineate(ctx, d.in.FlowDir, pour)
	if err != nil {
		return p, fmt.Errorf("delineate: %w", err)
	}

	poly, err := d.in.Backend.VectorizeDissolve(ctx, catchment, d.in.Simplify)
	if err != nil {
		return p, fmt.Errorf("vectorize: %w", err)
	}
	areaSqKm, err := d.in.Backend.AreaSqKm(ctx, poly)
	if err != nil {
		return p, fmt.Errorf("area: %w", err)
	}

	slopeMean, _, err := d.in.Backend.ZonalMean(ctx, d.in.Slope, catchment)
	if err != nil {
		return p, fmt.Errorf("zonal mean slope: %w", err)
	}
	cnMean, _, err := d.in.Backend.ZonalMean(ctx, d.in.CurveNumber, catchment)
	if err != nil {
		return p, fmt.Errorf("zonal mean curve number: %w", err)
	}

	maxFl, err := d.flowLength(ctx, catchment)
	if err != nil {
		return p, err
	}

	shed := &drainit.Shed{
		UID:         p.UID,
		GroupID:     p.GroupID,
		AreaSqKm:    areaSqKm,
		AvgSlopePct: slopeMean,
		AvgCN:       cnMean,
		MaxFlM:      maxFl,
		VectorPath:  poly.Path,
	}

	for freq, raster := range d.in.Rainfall {
		mean, _, err := d.in.Backend.ZonalMean(ctx, raster, catchment)
		if err != nil {
			return p, fmt.Errorf("zonal mean rainfall (freq %d): %w", freq, err)
		}
		shed.AvgRainfall = append(shed.AvgRainfall, drainit.Rainfall{
			Freq: freq, Dur: "24hr", Value: mean, Units: d.in.RainfallUnit,
		})
	}

	p.Shed = shed
	return p, nil
}

// flowLength computes the catchment's maximum flow length: when a
// precomputed flow-length raster was supplied, clip it by the catchment
// and use raster.max - raster.min; otherwise clip the flow-direction
// raster and derive an upstream flow-length raster from it, taking its
// max. An empty clip resolves to 0, not an error. The result is in
// metres: a raster whose linear unit is "ft" is converted with
// LengConvFactor, any other unit is taken as metres.
func (d *Driver) flowLength(ctx context.Context, catchment *geoproc.Raster) (float64, error) {
	toMetres := func(r *geoproc.Raster, v float64) float64 {
		if r.LinearUnit == "ft" {
			return v * d.in.LengConvFactor
		}
		return v
	}
	if d.in.FlowLen != nil {
		clipped, err := d.in.Backend.Clip(ctx, d.in.FlowLen, catchment)
		if err != nil {
			return 0, fmt.Errorf("clip precomputed flow length: %w", err)
		}
		min, max, ok := clipped.MinMax()
		if !ok {
			return 0, nil
		}
		return toMetres(clipped, max-min), nil
	}

	flowLen, err := d.in.Backend.UpstreamFlowLength(ctx, d.in.FlowDir, catchment)
	if err != nil {
		return 0, fmt.Errorf("upstream flow length: %w", err)
	}
	_, maxFl, ok := flowLen.MinMax()
	if !ok {
		return 0, nil
	}
	return toMetres(flowLen, maxFl), nil
}
