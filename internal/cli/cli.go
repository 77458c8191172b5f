// Package cli builds the cobra command tree for the drainit binary: one
// Cfg holder wrapping a *viper.Viper, flags registered once and bound
// into it with pflag, and one RunE per subcommand. The capacity command
// reads its options back out of the viper config; ingest and
// rainfall-config read their own flag variables.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/civicmapper/drainit"
	"github.com/civicmapper/drainit/internal/geoproc/gdalgo"
	"github.com/civicmapper/drainit/internal/naacc"
	"github.com/civicmapper/drainit/internal/workflow"
)

// Cfg wraps a *viper.Viper, letting every subcommand's flags land in one
// config object that is also the thing read back for the actual run.
type Cfg struct {
	*viper.Viper
}

// Root builds and returns the drainit root command with its three
// subcommands attached.
func Root() *cobra.Command {
	cfg := &Cfg{Viper: viper.New()}

	root := &cobra.Command{
		Use:   "drainit",
		Short: "Culvert capacity and watershed analysis toolkit.",
		Long: `drainit ingests NAACC culvert survey data, delineates each
culvert's contributing watershed, and computes FHWA inlet-control capacity
and TR-55 peak flow to flag road-stream crossings at risk of overflow.`,
	}

	root.AddCommand(
		ingestCmd(cfg),
		rainfallConfigCmd(cfg),
		capacityCmd(cfg),
	)
	return root
}

// ingestCmd reads a NAACC culvert survey table and writes the hydrated
// valid/invalid output split.
func ingestCmd(cfg *Cfg) *cobra.Command {
	var source, output string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a NAACC culvert survey table and hydrate capacity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(source)
			if err != nil {
				return fmt.Errorf("ingest: opening %q: %w", source, err)
			}
			defer f.Close()

			points, err := naacc.ReadCSV(f, naacc.Options{})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			out, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("ingest: creating %q: %w", output, err)
			}
			defer out.Close()
			invalid, err := os.Create(output + ".invalid.csv")
			if err != nil {
				return fmt.Errorf("ingest: creating invalid-rows output: %w", err)
			}
			defer invalid.Close()

			if err := naacc.WriteSplit(points, out, invalid); err != nil {
				return fmt.Errorf("ingest: writing output: %w", err)
			}
			logrus.WithField("count", len(points)).Info("ingest complete")
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&source, "source", "", "path to the NAACC source CSV table")
	flags.StringVar(&output, "output", "", "path to write the hydrated output feature table")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("output")
	bindFlags(cfg, flags)
	return cmd
}

// rainfallConfigCmd builds a rainfall raster configuration from an area
// of interest.
func rainfallConfigCmd(cfg *Cfg) *cobra.Command {
	var root, output string
	var frequencies []int
	cmd := &cobra.Command{
		Use:   "rainfall-config",
		Short: "Build a rainfall raster configuration for an area of interest.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := &drainit.RainfallRasterConfig{Root: root}
			for _, freq := range frequencies {
				rc.Rasters = append(rc.Rasters, drainit.RainfallRaster{
					Path:  fmt.Sprintf("%dyr24ha.asc", freq),
					Freq:  freq,
					Units: "inches/1000",
				})
			}
			data, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("rainfall-config: creating %q: %w", output, err)
			}
			defer data.Close()
			enc := json.NewEncoder(data)
			enc.SetIndent("", "  ")
			return enc.Encode(rc)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&root, "root", "", "directory the rainfall rasters live in")
	flags.IntSliceVar(&frequencies, "frequencies", []int{1, 2, 5, 10, 25, 50, 100, 200, 500}, "return-period frequencies, in years")
	flags.StringVar(&output, "output", "", "path to write the rainfall configuration JSON")
	cmd.MarkFlagRequired("root")
	cmd.MarkFlagRequired("output")
	bindFlags(cfg, flags)
	return cmd
}

// capacityCmd runs the full capacity workflow. Exit code 0 on success
// even with partial per-row errors; non-zero only on an unrecoverable
// configuration or I/O error.
func capacityCmd(cfg *Cfg) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Run the full culvert capacity and watershed analysis workflow.",
		RunE: func(cmd *cobra.Command, args []string) error {
			wcfg := drainit.NewWorkflowConfig()
			wcfg.PointsFilepath = cfg.GetString("points")
			wcfg.RasterFlowdirFilepath = cfg.GetString("flowdir")
			wcfg.RasterSlopeFilepath = cfg.GetString("slope")
			wcfg.RasterFlowlenFilepath = cfg.GetString("flowlen")
			wcfg.RasterCurvenumberFilepath = cfg.GetString("curvenumber")
			wcfg.PrecipSrcConfigFilepath = cfg.GetString("precip-config")
			wcfg.OutputPointsFilepath = cfg.GetString("output-points")
			wcfg.OutputShedsFilepath = cfg.GetString("output-sheds")
			wcfg.ShedsSimplify = cast.ToBool(cfg.Get("sheds-simplify"))

			mgr := &workflow.Manager{
				Backend:    &gdalgo.Backend{},
				NumWorkers: cast.ToInt(cfg.Get("workers")),
			}
			_, err := mgr.Run(context.Background(), wcfg)
			return err
		},
	}
	flags := cmd.Flags()
	flags.String("points", "", "path to the points input (post-ingest)")
	flags.String("flowdir", "", "path to the flow-direction raster")
	flags.String("slope", "", "path to the slope raster")
	flags.String("flowlen", "", "path to a precomputed flow-length raster (optional)")
	flags.String("curvenumber", "", "path to the curve-number raster")
	flags.String("precip-config", "", "path to the rainfall raster configuration JSON")
	flags.String("output-points", "", "path to write the enriched point output")
	flags.String("output-sheds", "", "path to write the merged watershed polygon output")
	flags.Bool("sheds-simplify", false, "simplify delineated watershed polygons")
	flags.Int("workers", 4, "number of concurrent delineation workers")
	for _, required := range []string{"points", "flowdir", "slope", "curvenumber", "precip-config", "output-points"} {
		cmd.MarkFlagRequired(required)
	}
	bindFlags(cfg, flags)
	return cmd
}

// bindFlags binds every flag in flags into cfg's viper instance. All
// subcommands share that one instance, so a flag name registered by two
// subcommands (such as "output") is bound to whichever was bound last;
// capacityCmd's RunE reads its values from it, while ingestCmd and
// rainfallConfigCmd close over their flag variables directly.
func bindFlags(cfg *Cfg, flags *pflag.FlagSet) {
	cfg.BindPFlags(flags)
}
