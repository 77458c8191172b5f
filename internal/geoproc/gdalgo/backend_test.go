package gdalgo

import (
	"context"
	"testing"

	"github.com/civicmapper/drainit/internal/geoproc"
)

// TestDelineateTracesDownstream builds a 2x2 flow-direction grid where the
// pour point sits at the bottom-right cell. The top-left cell drains in
// via a diagonal (SE) step, the top-right cell drains in directly south,
// and the bottom-left cell flows off the west edge of the grid and must
// be excluded.
func TestDelineateTracesDownstream(t *testing.T) {
	flowdir := &geoproc.Raster{
		Nx: 2, Ny: 2, OriginX: 0, OriginY: 0, CellSize: 1, NoData: -9999,
		Data: []float64{
			dirSE, dirS, // row 0: (col0,row0)=SE, (col1,row0)=S
			dirW, 0,     // row 1: (col0,row1)=W (flows off-grid), (col1,row1)=pour cell
		},
	}
	b := &Backend{}
	out, err := b.Delineate(context.Background(), flowdir, geoproc.PourPoint{UID: "p1", X: 1.5, Y: 0.5})
	if err != nil {
		t.Fatalf("Delineate: %v", err)
	}
	cases := []struct {
		col, row int
		want     float64
	}{
		{0, 0, 1},          // drains in via SE
		{1, 0, 1},          // drains in via S
		{1, 1, 1},          // the pour cell itself
		{0, 1, out.NoData}, // flows off the west edge, excluded
	}
	for _, c := range cases {
		if got := out.At(c.col, c.row); got != c.want {
			t.Errorf("out.At(%d,%d) = %v, want %v", c.col, c.row, got, c.want)
		}
	}
}

// TestReprojectPourPointSameCRSPassesThrough checks that a pour point
// already in the flow-direction raster's CRS is returned unchanged.
func TestReprojectPourPointSameCRSPassesThrough(t *testing.T) {
	flowdir := &geoproc.Raster{CRSCode: 4326}
	pour := geoproc.PourPoint{UID: "p1", X: -72.5, Y: 44.1, CRSCode: 4326}
	x, y, err := reprojectPourPoint(flowdir, pour)
	if err != nil {
		t.Fatalf("reprojectPourPoint: %v", err)
	}
	if x != pour.X || y != pour.Y {
		t.Errorf("reprojectPourPoint same-CRS = (%v,%v), want (%v,%v)", x, y, pour.X, pour.Y)
	}
}

// TestReprojectPourPointUnrecognizedCRS checks that a WKID with no entry
// in epsgProj4 surfaces as an error rather than silently using the raw,
// un-reprojected coordinates.
func TestReprojectPourPointUnrecognizedCRS(t *testing.T) {
	flowdir := &geoproc.Raster{CRSCode: 5070}
	pour := geoproc.PourPoint{UID: "p1", X: -72.5, Y: 44.1, CRSCode: 99999}
	if _, _, err := reprojectPourPoint(flowdir, pour); err == nil {
		t.Error("reprojectPourPoint with an unrecognized CRS: want an error, got nil")
	}
}

// TestDelineateReprojectsMismatchedCRS checks that Delineate reprojects a
// pour point given in a different, recognized CRS than the flow-direction
// raster before snapping it to a cell, rather than comparing raw WGS84
// degree coordinates against a projected grid.
func TestDelineateReprojectsMismatchedCRS(t *testing.T) {
	flowdir := &geoproc.Raster{
		Nx: 2, Ny: 2, OriginX: 0, OriginY: 0, CellSize: 1, NoData: -9999, CRSCode: 3857,
		Data: []float64{dirSE, dirS, dirW, 0},
	}
	b := &Backend{}
	// 900913 is a de facto alias for 3857 sharing an identical PROJ4
	// definition in epsgProj4, so the transform is a pure identity and the
	// point should land on the same pour cell as the untransformed
	// coordinates would.
	out, err := b.Delineate(context.Background(), flowdir, geoproc.PourPoint{UID: "p1", X: 1.5, Y: 0.5, CRSCode: 900913})
	if err != nil {
		t.Fatalf("Delineate with a mismatched-but-recognized CRS: %v", err)
	}
	if out.At(1, 1) != 1 {
		t.Errorf("out.At(1,1) = %v, want 1 (pour cell included)", out.At(1, 1))
	}
}

func TestDelineatePourPointOutsideGrid(t *testing.T) {
	flowdir := &geoproc.Raster{Nx: 2, Ny: 2, OriginX: 0, OriginY: 0, CellSize: 1, NoData: -9999, Data: make([]float64, 4)}
	b := &Backend{}
	if _, err := b.Delineate(context.Background(), flowdir, geoproc.PourPoint{UID: "p1", X: 100, Y: 100}); err == nil {
		t.Error("Delineate with an out-of-grid pour point: want an error, got nil")
	}
}

// TestZonalMeanAveragesDisjointZones checks that when a zone raster has
// more than one disjoint connected group of non-NoData cells, ZonalMean
// averages the per-zone means rather than pooling every cell into one
// mean.
func TestZonalMeanAveragesDisjointZones(t *testing.T) {
	zone := &geoproc.Raster{
		Nx: 4, Ny: 1, CellSize: 1, NoData: -9999,
		Data: []float64{1, -9999, 1, 1}, // zone A: {0}; zone B: {2,3}
	}
	value := &geoproc.Raster{
		Nx: 4, Ny: 1, CellSize: 1, NoData: -9999,
		Data: []float64{10, 0, 20, 40},
	}
	b := &Backend{}
	mean, zones, err := b.ZonalMean(context.Background(), value, zone)
	if err != nil {
		t.Fatalf("ZonalMean: %v", err)
	}
	if zones != 2 {
		t.Errorf("zones = %d, want 2", zones)
	}
	// zone A mean = 10; zone B mean = (20+40)/2 = 30; mean of means = 20.
	if mean != 20 {
		t.Errorf("mean = %v, want 20", mean)
	}
}

func TestZonalMeanEmptyZone(t *testing.T) {
	zone := &geoproc.Raster{Nx: 2, Ny: 1, CellSize: 1, NoData: -9999, Data: []float64{-9999, -9999}}
	value := &geoproc.Raster{Nx: 2, Ny: 1, CellSize: 1, NoData: -9999, Data: []float64{1, 2}}
	b := &Backend{}
	mean, zones, err := b.ZonalMean(context.Background(), value, zone)
	if err != nil {
		t.Fatalf("ZonalMean: %v", err)
	}
	if zones != 0 || mean != 0 {
		t.Errorf("ZonalMean on an all-NoData zone = (%v,%v), want (0,0)", mean, zones)
	}
}

// TestUpstreamFlowLengthLinearColumn checks UpstreamFlowLength against a
// 3-cell column that flows straight down: the top cell has no upstream
// path, the middle cell is one cell-width deep, and the bottom cell is
// two cell-widths deep.
func TestUpstreamFlowLengthLinearColumn(t *testing.T) {
	flowdir := &geoproc.Raster{
		Nx: 1, Ny: 3, CellSize: 1, NoData: -9999,
		Data: []float64{dirS, dirS, 0}, // row0 -> row1 -> row2
	}
	mask := &geoproc.Raster{Nx: 1, Ny: 3, CellSize: 1, NoData: -9999, Data: []float64{0, 0, 0}}
	b := &Backend{}
	out, err := b.UpstreamFlowLength(context.Background(), flowdir, mask)
	if err != nil {
		t.Fatalf("UpstreamFlowLength: %v", err)
	}
	want := []float64{0, 1, 2}
	for row, w := range want {
		if got := out.At(0, row); got != w {
			t.Errorf("out.At(0,%d) = %v, want %v", row, got, w)
		}
	}
	min, max, ok := out.MinMax()
	if !ok || min != 0 || max != 2 {
		t.Errorf("MinMax = (%v,%v,%v), want (0,2,true)", min, max, ok)
	}
}

func TestClipMasksOutsideExtent(t *testing.T) {
	r := &geoproc.Raster{Nx: 2, Ny: 1, CellSize: 1, NoData: -1, Data: []float64{5, 7}}
	mask := &geoproc.Raster{Nx: 2, Ny: 1, CellSize: 1, NoData: -9999, Data: []float64{0, -9999}}
	b := &Backend{}
	got, err := b.Clip(context.Background(), r, mask)
	if err != nil {
		t.Fatalf("Clip: %v", err)
	}
	if got.At(0, 0) != 5 {
		t.Errorf("Clip kept cell = %v, want 5", got.At(0, 0))
	}
	if got.At(1, 0) != r.NoData {
		t.Errorf("Clip masked cell = %v, want r.NoData (%v)", got.At(1, 0), r.NoData)
	}
}

func TestClipRequiresMatchingGrid(t *testing.T) {
	r := &geoproc.Raster{Nx: 2, Ny: 1}
	mask := &geoproc.Raster{Nx: 3, Ny: 1}
	b := &Backend{}
	if _, err := b.Clip(context.Background(), r, mask); err == nil {
		t.Error("Clip with mismatched grids: want an error, got nil")
	}
}

func TestWithRasterEnvironmentPropagatesError(t *testing.T) {
	b := &Backend{}
	wantErr := context.Canceled
	err := b.WithRasterEnvironment(context.Background(), nil, func(ctx context.Context) error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("WithRasterEnvironment error = %v, want %v", err, wantErr)
	}
}

// TestWithRasterEnvironmentRestoresPriorState checks that two sequential
// (non-overlapping) calls each see their own scope's raster as current and
// that the scope is cleared again once each call returns — the shape two
// worker-pool tasks observe when one runs after the other.
func TestWithRasterEnvironmentRestoresPriorState(t *testing.T) {
	b := &Backend{}
	first := &geoproc.Raster{CellSize: 10}
	second := &geoproc.Raster{CellSize: 20}
	var sawFirst, sawSecond *geoproc.Raster

	err := b.WithRasterEnvironment(context.Background(), first, func(ctx context.Context) error {
		sawFirst = currentEnv.snapRaster
		return nil
	})
	if err != nil {
		t.Fatalf("WithRasterEnvironment: %v", err)
	}
	if currentEnv != nil {
		t.Error("currentEnv should be nil once the first scope returns")
	}

	err = b.WithRasterEnvironment(context.Background(), second, func(ctx context.Context) error {
		sawSecond = currentEnv.snapRaster
		return nil
	})
	if err != nil {
		t.Fatalf("WithRasterEnvironment: %v", err)
	}

	if sawFirst != first {
		t.Error("first scope did not see its own raster as the current snap raster")
	}
	if sawSecond != second {
		t.Error("second scope did not see its own raster as the current snap raster")
	}
	if currentEnv != nil {
		t.Error("currentEnv should be restored to nil after the second scope returns")
	}
}
