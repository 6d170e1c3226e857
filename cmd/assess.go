package main

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/assess"
	"github.com/miljoportal/tilstand/internal/export"
	"github.com/miljoportal/tilstand/internal/loader"
	"github.com/miljoportal/tilstand/internal/model"
	"github.com/miljoportal/tilstand/internal/raster"
	"github.com/miljoportal/tilstand/internal/rules"
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Run the full assessment over the configured datasets",
	Long:  "Enriches qualifying records with geometry and infiltration, resolves concentrations, computes flux, aggregates per river segment, and evaluates mixed concentrations against thresholds. Results are exported as CSV and persisted in the run store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyPathFlags(cmd)

		rs, err := loadRules()
		if err != nil {
			return err
		}
		in, err := loadInputs()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.CreateRun(ctx, model.RunInputs{
			RecordsPath:      cfg.Inputs.Records,
			SitesPath:        cfg.Inputs.Sites,
			RiversPath:       cfg.Inputs.Rivers,
			FlowPath:         cfg.Flow.Path,
			LayerMappingPath: cfg.Inputs.LayerMapping,
			RasterDir:        cfg.Infiltration.RasterDir,
		})
		if err != nil {
			return err
		}
		log := zap.L().With(zap.String("run_id", run.ID))
		log.Info("run started", zap.Int("input_rows", len(in.Records)))

		results, err := assess.NewAssessor(rs).Run(in)
		if err != nil {
			if failErr := st.FailRun(ctx, run.ID, err.Error()); failErr != nil {
				log.Warn("failed to mark run failed", zap.Error(failErr))
			}
			return err
		}

		if err := export.WriteAll(cfg.Output.Dir, results); err != nil {
			if failErr := st.FailRun(ctx, run.ID, err.Error()); failErr != nil {
				log.Warn("failed to mark run failed", zap.Error(failErr))
			}
			return err
		}

		if err := st.SaveSummaries(ctx, run.ID, results.Summaries); err != nil {
			return err
		}
		if err := st.SaveExceedances(ctx, run.ID, results.SiteExceedances); err != nil {
			return err
		}
		if err := st.CompleteRun(ctx, run.ID, results.Counts(len(in.Records))); err != nil {
			return err
		}

		log.Info("run completed",
			zap.Int("segments", len(results.Summaries)),
			zap.Int("site_exceedances", len(results.SiteExceedances)),
			zap.String("output_dir", cfg.Output.Dir),
		)
		return nil
	},
}

func init() {
	assessCmd.Flags().String("records", "", "qualifying records CSV (overrides config)")
	assessCmd.Flags().String("sites", "", "site polygon shapefile (overrides config)")
	assessCmd.Flags().String("rivers", "", "river segment shapefile (overrides config)")
	assessCmd.Flags().String("flow", "", "flow dataset, shapefile or xlsx (overrides config)")
	assessCmd.Flags().String("layer-mapping", "", "aquifer to model layer CSV (overrides config)")
	assessCmd.Flags().String("raster-dir", "", "infiltration grid directory (overrides config)")
	assessCmd.Flags().String("out", "", "output directory (overrides config)")
	rootCmd.AddCommand(assessCmd)
}

// applyPathFlags lets command-line flags override the configured input paths.
func applyPathFlags(cmd *cobra.Command) {
	override := func(flag string, dst *string) {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			*dst = v
		}
	}
	override("records", &cfg.Inputs.Records)
	override("sites", &cfg.Inputs.Sites)
	override("rivers", &cfg.Inputs.Rivers)
	override("flow", &cfg.Flow.Path)
	override("layer-mapping", &cfg.Inputs.LayerMapping)
	override("raster-dir", &cfg.Infiltration.RasterDir)
	override("out", &cfg.Output.Dir)
}

func loadRules() (*rules.RuleSet, error) {
	if cfg.Rules.Path != "" {
		return rules.LoadFile(cfg.Rules.Path)
	}
	return rules.Load()
}

// loadInputs reads every configured dataset into memory.
func loadInputs() (assess.Inputs, error) {
	var in assess.Inputs

	records, err := loader.ReadQualifyingRecords(cfg.Inputs.Records)
	if err != nil {
		return in, err
	}
	sites, err := loader.LoadSites(cfg.Inputs.Sites, cfg.Inputs.SiteIDField)
	if err != nil {
		return in, err
	}
	mappings, err := loader.ReadLayerMapping(cfg.Inputs.LayerMapping, cfg.Infiltration.DefaultRegion)
	if err != nil {
		return in, err
	}
	segments, err := loader.LoadRivers(cfg.Inputs.Rivers, cfg.Inputs.LengthField)
	if err != nil {
		return in, err
	}
	flows, err := loadFlows()
	if err != nil {
		return in, err
	}

	in = assess.Inputs{
		Records:  records,
		Sites:    sites,
		Mappings: mappings,
		Segments: segments,
		Flows:    flows,
		Sampler: raster.NewSampler(
			cfg.Infiltration.RasterDir,
			cfg.Infiltration.DefaultRegion,
			cfg.Infiltration.CapMMYr,
		),
	}
	return in, nil
}

func loadFlows() (*model.FlowTable, error) {
	switch ext := strings.ToLower(filepath.Ext(cfg.Flow.Path)); ext {
	case ".shp":
		return loader.LoadFlowPoints(cfg.Flow.Path, cfg.Flow.Scenarios)
	case ".xlsx":
		return loader.ReadFlowWorkbook(cfg.Flow.Path, cfg.Flow.RefColumn, cfg.Flow.Scenarios)
	default:
		return nil, eris.Errorf("unsupported flow dataset format: %s", ext)
	}
}
