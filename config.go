package drainit

import (
	"encoding/json"
	"fmt"
	"os"
)

// RainfallRaster is one rainfall-depth raster referenced by a
// RainfallRasterConfig: a return-period frequency, a file extension, and
// the units its cell values are stored in.
type RainfallRaster struct {
	Path  string `json:"path"`
	Freq  int    `json:"freq"`
	Ext   string `json:"ext,omitempty"`
	Units string `json:"units"` // default "inches/1000"
}

// RainfallRasterConfig is the JSON-persisted description of a set of
// rainfall-depth rasters, one per storm-return frequency, used by the
// watershed zonal-statistics driver (internal/shed). Root is a filesystem
// directory; each Raster's Path is relative to it.
type RainfallRasterConfig struct {
	Root    string           `json:"root"`
	Rasters []RainfallRaster `json:"rasters"`
}

// LoadRainfallRasterConfig reads and parses a RainfallRasterConfig from the
// JSON file at path.
func LoadRainfallRasterConfig(path string) (*RainfallRasterConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("drainit: opening rainfall raster config %q: %w", path, err)
	}
	defer f.Close()
	var cfg RainfallRasterConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("drainit: decoding rainfall raster config %q: %w", path, err)
	}
	for i := range cfg.Rasters {
		if cfg.Rasters[i].Units == "" {
			cfg.Rasters[i].Units = "inches/1000"
		}
	}
	return &cfg, nil
}

// RainRatioMethod selects which of the two TR-55 rain-ratio (unit peak
// discharge) formulations internal/calc.PeakFlow uses. This module
// supports only these two named methods and never alternates silently
// between them.
type RainRatioMethod int

const (
	// RainRatioContinuous is method 1: a continuous function of Ia/P,
	// clipped to [0.1, 0.5]. This is the default.
	RainRatioContinuous RainRatioMethod = iota
	// RainRatioDiscrete is method 2: a discrete lookup over the 9
	// standard return periods (1,2,5,10,25,50,100,200,500 years).
	RainRatioDiscrete
)

// WorkflowConfig holds every parameter of one capacity-workflow run. It is
// the single source of truth the capacity workflow (internal/workflow)
// reads from; WorkflowConfig must round-trip through JSON losslessly.
type WorkflowConfig struct {
	// Input points.
	PointsFilepath        string `json:"points_filepath"`
	PointsIDFieldname     string `json:"points_id_fieldname"`     // default "Naacc_Culvert_Id"
	PointsGroupFieldname  string `json:"points_group_fieldname"`  // default "Survey_Id"
	PointsSpatialRefCode  int    `json:"points_spatial_ref_code"` // default 4326

	// Input rasters.
	RasterFlowdirFilepath     string `json:"raster_flowdir_filepath"`
	RasterSlopeFilepath       string `json:"raster_slope_filepath"`
	RasterFlowlenFilepath     string `json:"raster_flowlen_filepath,omitempty"`
	RasterCurvenumberFilepath string `json:"raster_curvenumber_filepath"`

	// Input rainfall.
	PrecipSrcConfigFilepath string                `json:"precip_src_config_filepath"`
	PrecipSrcConfig         *RainfallRasterConfig `json:"precip_src_config,omitempty"`

	// Analysis parameters.
	AreaConvFactor  float64         `json:"area_conv_factor"` // sqft -> sqkm fallback
	LengConvFactor  float64         `json:"leng_conv_factor"` // ft -> m fallback
	ShedsSimplify   bool            `json:"sheds_simplify"`
	RainRatioMethod RainRatioMethod `json:"rain_ratio_method"`

	// Optional user-defined output columns, evaluated against a fixed set
	// of a Point's capacity and shed values (see internal/workflow's
	// govaluate wiring for the variable names).
	DerivedFieldExprs map[string]string `json:"derived_field_exprs,omitempty"`

	// Output.
	OutputPointsFilepath string `json:"output_points_filepath"`
	OutputShedsFilepath  string `json:"output_sheds_filepath"`

	// ScratchDir is the per-run scratch workspace. The workflow manager
	// creates it if needed; left empty, the manager creates and owns a
	// temp directory for the life of one run and removes it afterwards.
	// The backend's intermediate files (the gdalgo per-point shed
	// shapefiles) are not written here: they go to the system temp
	// directory and are not removed by the run.
	ScratchDir string `json:"scratch_dir,omitempty"`
}

// NewWorkflowConfig returns a WorkflowConfig populated with its standard
// defaults.
func NewWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		PointsIDFieldname:    "Naacc_Culvert_Id",
		PointsGroupFieldname: "Survey_Id",
		PointsSpatialRefCode: 4326,
		AreaConvFactor:       0.00000009290304, // sqft -> sqkm
		LengConvFactor:       0.3048,           // ft -> m
		RainRatioMethod:      RainRatioContinuous,
	}
}

// LoadWorkflowConfig reads a WorkflowConfig from a JSON file.
func LoadWorkflowConfig(path string) (*WorkflowConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("drainit: opening workflow config %q: %w", path, err)
	}
	defer f.Close()
	cfg := NewWorkflowConfig()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("drainit: decoding workflow config %q: %w", path, err)
	}
	return cfg, nil
}

// Save writes c to path as JSON, matching the shape LoadWorkflowConfig
// reads.
func (c *WorkflowConfig) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("drainit: creating workflow config %q: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Checkpoint is a WorkflowConfig plus the Point slice computed so far,
// persisted so a long capacity-workflow run can resume after the NAACC
// ingest phase without redoing it.
type Checkpoint struct {
	Config *WorkflowConfig `json:"config"`
	Points []Point         `json:"points"`
}

// SaveCheckpoint writes cfg and points to path as JSON.
func SaveCheckpoint(path string, cfg *WorkflowConfig, points []Point) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("drainit: creating checkpoint %q: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(Checkpoint{Config: cfg, Points: points})
}

// LoadCheckpoint reads a Checkpoint previously written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("drainit: opening checkpoint %q: %w", path, err)
	}
	defer f.Close()
	var cp Checkpoint
	if err := json.NewDecoder(f).Decode(&cp); err != nil {
		return nil, fmt.Errorf("drainit: decoding checkpoint %q: %w", path, err)
	}
	return &cp, nil
}
