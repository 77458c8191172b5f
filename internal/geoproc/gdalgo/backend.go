// Package gdalgo is one concrete implementation of geoproc.Backend. It
// stores rasters as NetCDF single-band grids (using the
// github.com/ctessum/cdf + github.com/ctessum/sparse stack) and persists
// dissolved watershed polygons as shapefiles via
// github.com/ctessum/geom/encoding/shp, which wraps
// github.com/jonas-p/go-shp for the on-disk format. Polygon dissolve
// itself uses geom.Polygon's own Union method.
//
// Watershed delineation and upstream flow length are standard D8
// flow-direction raster algorithms, implemented directly against
// geoproc.Raster.
package gdalgo

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/stat"

	"github.com/ctessum/cdf"

	"github.com/civicmapper/drainit/internal/geoproc"
)

// Backend is the default geoproc.Backend implementation.
type Backend struct {
	// MaxOpenRetries bounds the exponential backoff retry applied around
	// raster opens, which can hit transient errors on networked mounts.
	// Zero means use backoff's default 15-minute elapsed-time cap.
	MaxOpenRetries time.Duration
}

var _ geoproc.Backend = (*Backend)(nil)

// d8 flow-direction codes, ESRI convention: value at a cell is the
// direction water flows OUT of that cell, as a compass bitmask.
const (
	dirE  = 1
	dirSE = 2
	dirS  = 4
	dirSW = 8
	dirW  = 16
	dirNW = 32
	dirN  = 64
	dirNE = 128
)

// offsets maps a d8 code to the (dcol, drow) of the downstream neighbor.
var offsets = map[int][2]int{
	dirE:  {1, 0},
	dirSE: {1, 1},
	dirS:  {0, 1},
	dirSW: {-1, 1},
	dirW:  {-1, 0},
	dirNW: {-1, -1},
	dirN:  {0, -1},
	dirNE: {1, -1},
}

// ReadRaster opens a single-band NetCDF raster written by WriteRaster.
// Opens are retried with exponential backoff since the expected failure
// mode (a networked/shared mount not yet consistent) is transient.
func (b *Backend) ReadRaster(ctx context.Context, path string) (*geoproc.Raster, error) {
	var r *geoproc.Raster
	op := func() error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		cf, err := cdf.Open(f)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("gdalgo: reading header of %q: %w", path, err))
		}
		nx := cf.Header.Lengths("band")[1]
		ny := cf.Header.Lengths("band")[0]
		reader := cf.Reader("band", nil, nil)
		data := sparse.ZerosDense(ny, nx)
		tmp := make([]float64, len(data.Elements))
		if _, err := reader.Read(tmp); err != nil {
			return fmt.Errorf("gdalgo: reading raster data from %q: %w", path, err)
		}
		r = &geoproc.Raster{
			Data:       tmp,
			Nx:         nx,
			Ny:         ny,
			OriginX:    cf.Header.GetAttribute("band", "origin_x").(float64),
			OriginY:    cf.Header.GetAttribute("band", "origin_y").(float64),
			CellSize:   cf.Header.GetAttribute("band", "cell_size").(float64),
			LinearUnit: cf.Header.GetAttribute("band", "linear_unit").(string),
			CRSCode:    int(cf.Header.GetAttribute("band", "crs_code").(int32)),
			NoData:     cf.Header.GetAttribute("band", "nodata").(float64),
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	if b.MaxOpenRetries > 0 {
		bo.MaxElapsedTime = b.MaxOpenRetries
	}
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return r, nil
}

// WriteRaster persists r as a single-band NetCDF file.
func (b *Backend) WriteRaster(ctx context.Context, path string, r *geoproc.Raster) error {
	h := cdf.NewHeader([]string{"y", "x"}, []int{r.Ny, r.Nx})
	h.AddVariable("band", []string{"y", "x"}, []float64{})
	h.AddAttribute("band", "origin_x", r.OriginX)
	h.AddAttribute("band", "origin_y", r.OriginY)
	h.AddAttribute("band", "cell_size", r.CellSize)
	h.AddAttribute("band", "linear_unit", r.LinearUnit)
	h.AddAttribute("band", "crs_code", int32(r.CRSCode))
	h.AddAttribute("band", "nodata", r.NoData)
	h.Define()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("gdalgo: creating %q: %w", path, err)
	}
	defer f.Close()
	cf, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("gdalgo: writing header to %q: %w", path, err)
	}
	w := cf.Writer("band", nil, nil)
	if _, err := w.Write(r.Data); err != nil {
		return fmt.Errorf("gdalgo: writing raster data to %q: %w", path, err)
	}
	return nil
}

// cellOf returns the (col, row) of the flow-direction cell nearest pour.
func cellOf(r *geoproc.Raster, x, y float64) (int, int) {
	col := int((x - r.OriginX) / r.CellSize)
	row := r.Ny - 1 - int((y-r.OriginY)/r.CellSize)
	return col, row
}

// epsgProj4 maps the WKIDs this module expects to encounter (NAACC survey
// exports are typically WGS84 geographic coordinates; flow-direction
// rasters are typically a projected NAD83 Albers or UTM zone) to their
// PROJ4 definitions, since ctessum/geom/proj parses WKT/PROJ4 text rather
// than resolving a bare EPSG code itself.
var epsgProj4 = map[int]string{
	4326:  "+proj=longlat +datum=WGS84 +no_defs",
	4269:  "+proj=longlat +datum=NAD83 +no_defs",
	3857:  "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs",
	900913: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs", // common de facto alias for 3857
	5070:  "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +datum=NAD83 +units=m +no_defs",
	26918: "+proj=utm +zone=18 +datum=NAD83 +units=m +no_defs",
	26919: "+proj=utm +zone=19 +datum=NAD83 +units=m +no_defs",
}

// spatialRef resolves a WKID to a *proj.SR via epsgProj4, erroring on any
// code this module does not carry a definition for.
func spatialRef(wkid int) (*proj.SR, error) {
	def, ok := epsgProj4[wkid]
	if !ok {
		return nil, fmt.Errorf("gdalgo: no projection definition for EPSG:%d", wkid)
	}
	return proj.Parse(def)
}

// reprojectPourPoint transforms pour's coordinates into flowdir's CRS when
// the two differ. A zero CRSCode on either side means no code was set for
// that side, so the point is assumed to already share the raster's CRS and
// passes through unchanged.
func reprojectPourPoint(flowdir *geoproc.Raster, pour geoproc.PourPoint) (x, y float64, err error) {
	if pour.CRSCode == 0 || flowdir.CRSCode == 0 || pour.CRSCode == flowdir.CRSCode {
		return pour.X, pour.Y, nil
	}
	source, err := spatialRef(pour.CRSCode)
	if err != nil {
		return 0, 0, fmt.Errorf("gdalgo: reprojecting pour point %s: %w", pour.UID, err)
	}
	dest, err := spatialRef(flowdir.CRSCode)
	if err != nil {
		return 0, 0, fmt.Errorf("gdalgo: reprojecting pour point %s: %w", pour.UID, err)
	}
	t, err := source.NewTransform(dest)
	if err != nil {
		return 0, 0, fmt.Errorf("gdalgo: building transform for pour point %s: %w", pour.UID, err)
	}
	x, y, err = t(pour.X, pour.Y)
	if err != nil {
		return 0, 0, fmt.Errorf("gdalgo: transforming pour point %s: %w", pour.UID, err)
	}
	return x, y, nil
}

// Delineate traces, for every cell in flowdir, whether it drains (directly
// or transitively, following d8 flow direction) into pour's cell, and
// returns a raster marking the resulting catchment with 1 and everything
// else as NoData.
func (b *Backend) Delineate(ctx context.Context, flowdir *geoproc.Raster, pour geoproc.PourPoint) (*geoproc.Raster, error) {
	px, py, err := reprojectPourPoint(flowdir, pour)
	if err != nil {
		return nil, err
	}
	pourCol, pourRow := cellOf(flowdir, px, py)
	if pourCol < 0 || pourCol >= flowdir.Nx || pourRow < 0 || pourRow >= flowdir.Ny {
		return nil, fmt.Errorf("gdalgo: pour point %s falls outside the flow-direction raster", pour.UID)
	}

	out := &geoproc.Raster{
		Data: make([]float64, len(flowdir.Data)), Nx: flowdir.Nx, Ny: flowdir.Ny,
		OriginX: flowdir.OriginX, OriginY: flowdir.OriginY, CellSize: flowdir.CellSize,
		LinearUnit: flowdir.LinearUnit, CRSCode: flowdir.CRSCode, NoData: -1,
	}
	for i := range out.Data {
		out.Data[i] = out.NoData
	}

	// For every cell, trace its downstream path until it either reaches
	// the pour cell (include it) or leaves the grid / hits a sink
	// (exclude it). Memoize to avoid retracing shared paths.
	memo := make([]int8, flowdir.Nx*flowdir.Ny) // 0 unknown, 1 drains-in, -1 doesn't
	var trace func(col, row int, path [][2]int) int8
	trace = func(col, row int, path [][2]int) int8 {
		if col == pourCol && row == pourRow {
			return 1
		}
		idx := row*flowdir.Nx + col
		if memo[idx] != 0 {
			return memo[idx]
		}
		for _, p := range path {
			if p[0] == col && p[1] == row {
				return -1 // cycle; no valid downstream path
			}
		}
		dir := int(flowdir.At(col, row))
		off, ok := offsets[dir]
		if !ok {
			memo[idx] = -1
			return -1
		}
		nc, nr := col+off[0], row+off[1]
		if nc < 0 || nc >= flowdir.Nx || nr < 0 || nr >= flowdir.Ny {
			memo[idx] = -1
			return -1
		}
		res := trace(nc, nr, append(path, [2]int{col, row}))
		memo[idx] = res
		return res
	}

	for row := 0; row < flowdir.Ny; row++ {
		for col := 0; col < flowdir.Nx; col++ {
			if trace(col, row, nil) == 1 {
				out.Set(col, row, 1)
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return out, nil
}

// VectorizeDissolve builds one dissolved polygon from catchment's
// non-NoData cells by unioning each cell's rectangular footprint, using
// geom.Polygon's polyclip-backed Union operator.
func (b *Backend) VectorizeDissolve(ctx context.Context, catchment *geoproc.Raster, simplify bool) (geoproc.Polygon, error) {
	var dissolved geom.Polygon
	first := true
	for row := 0; row < catchment.Ny; row++ {
		for col := 0; col < catchment.Nx; col++ {
			if catchment.At(col, row) == catchment.NoData {
				continue
			}
			x0 := catchment.OriginX + float64(col)*catchment.CellSize
			y1 := catchment.OriginY + float64(catchment.Ny-row)*catchment.CellSize
			cell := geom.Polygon{{
				geom.Point{X: x0, Y: y1 - catchment.CellSize},
				geom.Point{X: x0 + catchment.CellSize, Y: y1 - catchment.CellSize},
				geom.Point{X: x0 + catchment.CellSize, Y: y1},
				geom.Point{X: x0, Y: y1},
				geom.Point{X: x0, Y: y1 - catchment.CellSize},
			}}
			if first {
				dissolved = cell
				first = false
				continue
			}
			dissolved = dissolved.Union(cell)
		}
	}
	if first {
		return geoproc.Polygon{}, fmt.Errorf("gdalgo: catchment raster has no delineated cells")
	}
	if simplify {
		dissolved = dissolved.Simplify(catchment.CellSize / 2).(geom.Polygon)
	}

	path, err := writePolygonShapefile(dissolved)
	if err != nil {
		return geoproc.Polygon{}, err
	}
	return geoproc.Polygon{Path: path}, nil
}

// shedFeature is the shp.NewEncoder/NewDecoder archetype for a single
// dissolved watershed polygon, following the same "plain struct with a
// geom.Geom field" convention github.com/ctessum/geom/encoding/shp expects.
type shedFeature struct {
	Polygon geom.Polygon
}

// writePolygonShapefile persists p to a temporary shapefile via
// github.com/ctessum/geom/encoding/shp, which itself wraps
// github.com/jonas-p/go-shp for the on-disk format, and returns the .shp
// path.
func writePolygonShapefile(p geom.Polygon) (string, error) {
	f, err := os.CreateTemp("", "shed-*.shp")
	if err != nil {
		return "", fmt.Errorf("gdalgo: creating shed shapefile: %w", err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path) // shp.NewEncoder creates its own file set from the path

	enc, err := shp.NewEncoder(path, shedFeature{})
	if err != nil {
		return "", fmt.Errorf("gdalgo: creating shapefile encoder for %q: %w", path, err)
	}
	if err := enc.Encode(shedFeature{Polygon: p}); err != nil {
		enc.Close()
		return "", fmt.Errorf("gdalgo: encoding shed polygon to %q: %w", path, err)
	}
	enc.Close()
	return path, nil
}

// AreaSqKm reads poly's shapefile back and sums its ring area via the
// shoelace formula. Ring coordinates are taken to be metres: the result
// is the coordinate-unit area divided by 1e6, and the polygon's CRS
// linear unit is not consulted.
func (b *Backend) AreaSqKm(ctx context.Context, poly geoproc.Polygon) (float64, error) {
	dec, err := shp.NewDecoder(poly.Path)
	if err != nil {
		return 0, fmt.Errorf("gdalgo: opening shed shapefile %q: %w", poly.Path, err)
	}
	defer dec.Close()

	var sqm float64
	var feat shedFeature
	for dec.DecodeRow(&feat) {
		for _, ring := range feat.Polygon {
			sqm += shoelaceArea(ring)
		}
	}
	if sqm < 0 {
		sqm = -sqm
	}
	return sqm / 1e6, nil
}

// mergedShedFeature is the shp archetype for one row of a merged watershed
// dataset: the polygon plus the uid of the point it was delineated from,
// tagged per the DecodeRow/EncodeFields convention ("shp" struct tag,
// matched case-insensitively against attribute names).
type mergedShedFeature struct {
	Uid     string `shp:"uid"`
	Polygon geom.Polygon
}

// MergeSheds reads each per-point polygon shapefile back and re-encodes
// every feature, keyed by uid, into one merged shapefile at outPath.
func (b *Backend) MergeSheds(ctx context.Context, polys map[string]geoproc.Polygon, outPath string) error {
	enc, err := shp.NewEncoder(outPath, mergedShedFeature{})
	if err != nil {
		return fmt.Errorf("gdalgo: creating merged shed shapefile %q: %w", outPath, err)
	}
	for uid, poly := range polys {
		select {
		case <-ctx.Done():
			enc.Close()
			return ctx.Err()
		default:
		}
		dec, err := shp.NewDecoder(poly.Path)
		if err != nil {
			enc.Close()
			return fmt.Errorf("gdalgo: opening shed shapefile %q for uid %q: %w", poly.Path, uid, err)
		}
		var feat shedFeature
		for dec.DecodeRow(&feat) {
			if encErr := enc.Encode(mergedShedFeature{Uid: uid, Polygon: feat.Polygon}); encErr != nil {
				dec.Close()
				enc.Close()
				return fmt.Errorf("gdalgo: encoding merged shed for uid %q: %w", uid, encErr)
			}
		}
		dec.Close()
	}
	enc.Close()
	return nil
}

func shoelaceArea(ring []geom.Point) float64 {
	sum := 0.0
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i].X*ring[i+1].Y - ring[i+1].X*ring[i].Y
	}
	return sum / 2
}

// ZonalMean computes the mean of value's cells wherever zone is not
// NoData. Contiguous groups of zone cells are found with a flood fill;
// when more than one disjoint zone is present the per-zone means are
// themselves averaged (via gonum.org/v1/gonum/stat.Mean) rather than
// pooling all cells together.
func (b *Backend) ZonalMean(ctx context.Context, value, zone *geoproc.Raster) (float64, int, error) {
	visited := make([]bool, len(zone.Data))
	var zoneMeans []float64
	for start := 0; start < len(zone.Data); start++ {
		if visited[start] || zone.Data[start] == zone.NoData {
			continue
		}
		var sum float64
		var n int
		stack := []int{start}
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			col, row := idx%zone.Nx, idx/zone.Nx
			if value.At(col, row) != value.NoData {
				sum += value.At(col, row)
				n++
			}
			for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				nc, nr := col+d[0], row+d[1]
				if nc < 0 || nc >= zone.Nx || nr < 0 || nr >= zone.Ny {
					continue
				}
				nidx := nr*zone.Nx + nc
				if visited[nidx] || zone.Data[nidx] == zone.NoData {
					continue
				}
				visited[nidx] = true
				stack = append(stack, nidx)
			}
		}
		if n > 0 {
			zoneMeans = append(zoneMeans, sum/float64(n))
		}
	}
	if len(zoneMeans) == 0 {
		return 0, 0, nil
	}
	return stat.Mean(zoneMeans, nil), len(zoneMeans), nil
}

// UpstreamFlowLength computes, for each cell within mask, the along-d8-path
// distance to the farthest upstream cell draining through it, clipped to
// mask's extent.
func (b *Backend) UpstreamFlowLength(ctx context.Context, flowdir, mask *geoproc.Raster) (*geoproc.Raster, error) {
	clipped, err := b.Clip(ctx, flowdir, mask)
	if err != nil {
		return nil, err
	}
	out := &geoproc.Raster{
		Data: make([]float64, len(clipped.Data)), Nx: clipped.Nx, Ny: clipped.Ny,
		OriginX: clipped.OriginX, OriginY: clipped.OriginY, CellSize: clipped.CellSize,
		LinearUnit: clipped.LinearUnit, CRSCode: clipped.CRSCode, NoData: -1,
	}
	for i := range out.Data {
		out.Data[i] = out.NoData
	}
	// upstreamLen(col,row) = longest path, in cells along flow direction,
	// that terminates by flowing into (col,row); computed via memoized
	// reverse traversal (every cell has exactly one downstream neighbor,
	// so "upstream length" is the depth of the reverse flow tree).
	memo := make([]float64, clipped.Nx*clipped.Ny)
	computed := make([]bool, len(memo))
	var depth func(col, row int) float64
	depth = func(col, row int) float64 {
		idx := row*clipped.Nx + col
		if computed[idx] {
			return memo[idx]
		}
		computed[idx] = true // break cycles defensively
		best := 0.0
		for dir, off := range offsets {
			// a neighbor drains into (col,row) if ITS direction points here
			srcCol, srcRow := col-off[0], row-off[1]
			if srcCol < 0 || srcCol >= clipped.Nx || srcRow < 0 || srcRow >= clipped.Ny {
				continue
			}
			if int(clipped.At(srcCol, srcRow)) != dir {
				continue
			}
			step := clipped.CellSize
			if off[0] != 0 && off[1] != 0 {
				step *= 1.4142135623730951
			}
			d := depth(srcCol, srcRow) + step
			if d > best {
				best = d
			}
		}
		memo[idx] = best
		return best
	}
	for row := 0; row < clipped.Ny; row++ {
		for col := 0; col < clipped.Nx; col++ {
			if mask != nil && clipped.At(col, row) == clipped.NoData {
				continue
			}
			out.Set(col, row, depth(col, row))
		}
	}
	return out, nil
}

// Clip returns the subset of r covering mask's bounding extent, with
// cells outside mask's non-NoData footprint set to r's NoData.
func (b *Backend) Clip(ctx context.Context, r, mask *geoproc.Raster) (*geoproc.Raster, error) {
	if r.Nx != mask.Nx || r.Ny != mask.Ny {
		return nil, fmt.Errorf("gdalgo: clip requires rasters on the same grid")
	}
	out := &geoproc.Raster{
		Data: make([]float64, len(r.Data)), Nx: r.Nx, Ny: r.Ny,
		OriginX: r.OriginX, OriginY: r.OriginY, CellSize: r.CellSize,
		LinearUnit: r.LinearUnit, CRSCode: r.CRSCode, NoData: r.NoData,
	}
	for i := range out.Data {
		if mask.Data[i] == mask.NoData {
			out.Data[i] = r.NoData
		} else {
			out.Data[i] = r.Data[i]
		}
	}
	return out, nil
}

// envState is the mutable, global raster-environment state (snap raster,
// cell size, extent) that a real GIS engine (ArcPy, GDAL's global config)
// exposes process-wide rather than per-call.
type envState struct {
	snapRaster *geoproc.Raster
}

// envMu serializes access to currentEnv: the backend's global raster-
// environment state is scoped per task, so concurrent callers of
// WithRasterEnvironment (internal/shed's worker pool) queue up here
// rather than observing each other's environment.
var envMu sync.Mutex
var currentEnv *envState

// WithRasterEnvironment scopes the backend's implicit raster environment
// (here, just a snap-raster reference used to align output grids) to fn,
// restoring the prior value on return. The lock is held for fn's entire
// execution, so this is a serialization point, not just a convenience
// wrapper — concurrent points run their backend work one at a time.
func (b *Backend) WithRasterEnvironment(ctx context.Context, ref *geoproc.Raster, fn func(context.Context) error) error {
	envMu.Lock()
	defer envMu.Unlock()
	prev := currentEnv
	currentEnv = &envState{snapRaster: ref}
	defer func() { currentEnv = prev }()
	return fn(ctx)
}
