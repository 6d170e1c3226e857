package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/miljoportal/tilstand/internal/model"
	"github.com/miljoportal/tilstand/internal/raster"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check input datasets for referential problems without running",
	Long:  "Loads every configured dataset and the rule tables, then reports missing geometries, unmapped aquifers, unknown river segments, absent infiltration grids, and segments without flow data.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		applyPathFlags(cmd)

		rs, err := loadRules()
		if err != nil {
			return err
		}
		_ = rs // loading already validates hierarchy completeness

		in, err := loadInputs()
		if err != nil {
			return err
		}

		missingGeometry := make(map[string]struct{})
		unmappedAquifers := make(map[string]struct{})
		unknownSegments := make(map[int]struct{})
		segmentsNoFlow := make(map[string]struct{})
		missingGrids := make(map[string]struct{})

		for _, rec := range in.Records {
			if _, ok := in.Sites[rec.SiteID]; !ok {
				missingGeometry[rec.SiteID] = struct{}{}
			}
			mapping, ok := in.Mappings[rec.AquiferID]
			if !ok || len(mapping.Layers) == 0 {
				unmappedAquifers[rec.AquiferID] = struct{}{}
			} else {
				for _, layer := range mapping.Layers {
					name := raster.Filename(mapping.Region, layer)
					if !gridExists(cfg.Infiltration.RasterDir, name) &&
						!gridExists(cfg.Infiltration.RasterDir, raster.Filename(cfg.Infiltration.DefaultRegion, layer)) {
						missingGrids[name] = struct{}{}
					}
				}
			}
			seg, ok := in.Segments[rec.SegmentFID]
			if !ok {
				unknownSegments[rec.SegmentFID] = struct{}{}
				continue
			}
			hasFlow := false
			for _, scenario := range model.FlowScenarios {
				if flow, ok := in.Flows.Flow(seg.Ref, scenario); ok && flow > 0 {
					hasFlow = true
					break
				}
			}
			if !hasFlow {
				segmentsNoFlow[seg.Ref] = struct{}{}
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Qualifying records:\t%d\n", len(in.Records))
		fmt.Fprintf(w, "Site geometries:\t%d\n", len(in.Sites))
		fmt.Fprintf(w, "River segments:\t%d\n", len(in.Segments))
		fmt.Fprintf(w, "Segments with flow data:\t%d\n", in.Flows.Segments())
		fmt.Fprintf(w, "Sites without geometry:\t%d\n", len(missingGeometry))
		fmt.Fprintf(w, "Aquifers without layer mapping:\t%d\n", len(unmappedAquifers))
		fmt.Fprintf(w, "Unknown segment FIDs:\t%d\n", len(unknownSegments))
		fmt.Fprintf(w, "Referenced segments without flow:\t%d\n", len(segmentsNoFlow))
		fmt.Fprintf(w, "Missing infiltration grids:\t%d\n", len(missingGrids))
		w.Flush()

		if len(missingGeometry) > 0 || len(unknownSegments) > 0 {
			return eris.New("validate: dataset defects found that would abort a run")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("records", "", "qualifying records CSV (overrides config)")
	validateCmd.Flags().String("sites", "", "site polygon shapefile (overrides config)")
	validateCmd.Flags().String("rivers", "", "river segment shapefile (overrides config)")
	validateCmd.Flags().String("flow", "", "flow dataset, shapefile or xlsx (overrides config)")
	validateCmd.Flags().String("layer-mapping", "", "aquifer to model layer CSV (overrides config)")
	validateCmd.Flags().String("raster-dir", "", "infiltration grid directory (overrides config)")
	rootCmd.AddCommand(validateCmd)
}

func gridExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
