// Package geoproc defines the abstract geoprocessing-backend capability
// set that the per-point delineation and zonal-statistics driver
// (internal/shed) depends on, plus the raster/vector value types that
// capability set operates over. The core depends only on the Backend
// interface; internal/geoproc/gdalgo provides one concrete implementation
// built on a NetCDF/shapefile raster and vector stack.
package geoproc

import "context"

// Raster is a georeferenced grid of float64 cell values. Origin is the
// coordinate of the lower-left cell corner; CellSize is the (square) cell
// dimension in the raster's linear unit; NoData marks cells with no value.
type Raster struct {
	Data       []float64
	Nx, Ny     int
	OriginX    float64
	OriginY    float64
	CellSize   float64
	LinearUnit string // e.g. "m", "ft"
	CRSCode    int    // WKID
	NoData     float64
}

// At returns the value at grid cell (col, row), (0,0) being the
// upper-left cell, matching the row-major raster convention of the
// cdf/sparse raster variables this module reads and writes.
func (r *Raster) At(col, row int) float64 { return r.Data[row*r.Nx+col] }

// Set assigns the value at grid cell (col, row).
func (r *Raster) Set(col, row int, v float64) { r.Data[row*r.Nx+col] = v }

// MinMax returns the minimum and maximum non-NoData cell values. ok is
// false when the raster has no valid cells (an "empty raster").
func (r *Raster) MinMax() (min, max float64, ok bool) {
	first := true
	for _, v := range r.Data {
		if v == r.NoData {
			continue
		}
		if first {
			min, max, first = v, v, false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, !first
}

// PourPoint is the outlet (here, a culvert inlet) a catchment is
// delineated from.
type PourPoint struct {
	UID     string
	GroupID string
	X, Y    float64
	CRSCode int
}

// Polygon is an opaque reference to a vectorized, backend-native polygon
// feature (the catchment boundary, or a merged set of them). Backends
// persist it to their native vector store; the core treats it as a handle.
type Polygon struct {
	Path string // file or layer reference the backend wrote it to
}

// Backend is the abstract capability set needed to delineate watersheds
// and compute zonal statistics over them: raster I/O, watershed
// delineation, flow length, zonal statistics, vector conversion, and a
// scoped raster-environment block. internal/shed calls into a Backend
// but never assumes anything about how it is implemented.
type Backend interface {
	// ReadRaster opens a raster file with its georeferencing metadata.
	ReadRaster(ctx context.Context, path string) (*Raster, error)

	// WriteRaster persists r to path.
	WriteRaster(ctx context.Context, path string, r *Raster) error

	// Delineate produces a categorical raster of the single watershed
	// draining to pour, using flowdir as the flow-direction raster.
	Delineate(ctx context.Context, flowdir *Raster, pour PourPoint) (*Raster, error)

	// VectorizeDissolve converts a categorical watershed raster to a
	// single dissolved polygon, optionally simplified.
	VectorizeDissolve(ctx context.Context, catchment *Raster, simplify bool) (Polygon, error)

	// AreaSqKm returns a polygon's area in square kilometres, independent
	// of the polygon's CRS linear unit.
	AreaSqKm(ctx context.Context, poly Polygon) (float64, error)

	// ZonalMean computes the mean of value over the non-NoData cells of
	// zone, and reports how many disjoint zones (connected groups of
	// non-NoData cells) were present. When zones > 1, the per-zone means
	// are themselves averaged rather than pooling every cell together.
	ZonalMean(ctx context.Context, value, zone *Raster) (mean float64, zones int, err error)

	// UpstreamFlowLength computes, for every cell of flowdir clipped by
	// mask, the upstream flow-path length in the raster's linear unit.
	UpstreamFlowLength(ctx context.Context, flowdir, mask *Raster) (*Raster, error)

	// Clip returns the subset of r covering mask's non-NoData extent.
	Clip(ctx context.Context, r, mask *Raster) (*Raster, error)

	// WithRasterEnvironment scopes snap-raster/cell-size/extent state to
	// fn's execution and restores it on return, so concurrent callers never
	// observe each other's environment.
	WithRasterEnvironment(ctx context.Context, ref *Raster, fn func(context.Context) error) error

	// MergeSheds reads back each previously vectorized polygon in polys and
	// writes them to a single dataset at outPath, one feature per entry,
	// keyed by its map key (a point uid).
	MergeSheds(ctx context.Context, polys map[string]Polygon, outPath string) error
}
