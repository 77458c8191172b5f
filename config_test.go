package drainit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestWorkflowConfigRoundTrip checks the round-trip property:
// deserialize(serialize(c)) == c, for a config exercising every field
// including the optional ones.
func TestWorkflowConfigRoundTrip(t *testing.T) {
	cfg := NewWorkflowConfig()
	cfg.PointsFilepath = "points.csv"
	cfg.RasterFlowdirFilepath = "flowdir.nc"
	cfg.RasterSlopeFilepath = "slope.nc"
	cfg.RasterFlowlenFilepath = "flowlen.nc"
	cfg.RasterCurvenumberFilepath = "cn.nc"
	cfg.PrecipSrcConfigFilepath = "precip.json"
	cfg.PrecipSrcConfig = &RainfallRasterConfig{
		Root: "/rasters",
		Rasters: []RainfallRaster{
			{Path: "p100.nc", Freq: 100, Ext: ".nc", Units: "inches/1000"},
			{Path: "p10.nc", Freq: 10, Units: "inches/1000"},
		},
	}
	cfg.ShedsSimplify = true
	cfg.RainRatioMethod = RainRatioDiscrete
	cfg.DerivedFieldExprs = map[string]string{"risk_score": "culvert_capacity / (crossing_peakflow_m3s + 1)"}
	cfg.OutputPointsFilepath = "out_points.csv"
	cfg.OutputShedsFilepath = "out_sheds.shp"
	cfg.ScratchDir = "/tmp/drainit-scratch"

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadWorkflowConfig(path)
	if err != nil {
		t.Fatalf("LoadWorkflowConfig: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkflowConfigRoundTripDefaults(t *testing.T) {
	cfg := NewWorkflowConfig()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadWorkflowConfig(path)
	if err != nil {
		t.Fatalf("LoadWorkflowConfig: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRainfallRasterConfigDefaultsUnits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "precip.json")
	const body = `{"root":"/rasters","rasters":[{"path":"p100.nc","freq":100},{"path":"p10.nc","freq":10,"units":"cm"}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadRainfallRasterConfig(path)
	if err != nil {
		t.Fatalf("LoadRainfallRasterConfig: %v", err)
	}
	if cfg.Rasters[0].Units != "inches/1000" {
		t.Errorf("Rasters[0].Units = %q, want default %q", cfg.Rasters[0].Units, "inches/1000")
	}
	if cfg.Rasters[1].Units != "cm" {
		t.Errorf("Rasters[1].Units = %q, want %q (explicit value preserved)", cfg.Rasters[1].Units, "cm")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	cfg := NewWorkflowConfig()
	cfg.PointsFilepath = "points.csv"
	pts := []Point{
		{UID: "1", GroupID: "g1", Include: true},
		{UID: "2", GroupID: "g1", Include: false, ValidationErrors: map[string][]string{"in_a": {"cannot be None"}}},
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	if err := SaveCheckpoint(path, cfg, pts); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	got, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if diff := cmp.Diff(cfg, got.Config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(pts, got.Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}
