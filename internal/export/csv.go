// Package export writes the result tables of a run as CSV files. Each file
// is written to a temp name in the output directory and renamed into place,
// so a crash mid-write never leaves a truncated result behind.
package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/assess"
	"github.com/miljoportal/tilstand/internal/model"
)

// Output filenames.
const (
	FileSiteFlux           = "site_flux.csv"
	FileSegmentFlux        = "segment_flux.csv"
	FileCmixResults        = "cmix_results.csv"
	FileSegmentSummary     = "segment_summary.csv"
	FileFilteringAudit     = "filtering_audit.csv"
	FileSiteExceedances    = "site_exceedances.csv"
	FileAquiferExceedances = "aquifer_exceedances.csv"
)

// WriteAll writes every result table into dir, creating it if needed.
func WriteAll(dir string, results *assess.Results) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create %s", dir)
	}

	writers := []struct {
		name  string
		write func(*csv.Writer) error
	}{
		{FileSiteFlux, func(w *csv.Writer) error { return writeSiteFlux(w, results.Flux) }},
		{FileSegmentFlux, func(w *csv.Writer) error { return writeSegmentFlux(w, results.Aggregates) }},
		{FileCmixResults, func(w *csv.Writer) error { return writeCmix(w, results.Cmix) }},
		{FileSegmentSummary, func(w *csv.Writer) error { return writeSummaries(w, results.Summaries) }},
		{FileFilteringAudit, func(w *csv.Writer) error { return writeAudit(w, results.Audit.Exclusions) }},
		{FileSiteExceedances, func(w *csv.Writer) error { return writeSiteExceedances(w, results.SiteExceedances) }},
		{FileAquiferExceedances, func(w *csv.Writer) error { return writeAquiferExceedances(w, results.AquiferExceedances) }},
	}

	for _, wr := range writers {
		if err := writeFile(filepath.Join(dir, wr.name), wr.write); err != nil {
			return err
		}
	}

	zap.L().Info("results exported",
		zap.String("dir", dir),
		zap.Int("files", len(writers)),
	)
	return nil
}

func writeFile(path string, write func(*csv.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "export: temp file for %s", path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	w := csv.NewWriter(tmp)
	if err := write(w); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "export: write %s", path)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "export: flush %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "export: close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "export: rename into %s", path)
	}
	return nil
}

func f(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
func i(v int) string     { return strconv.Itoa(v) }
func b(v bool) string    { return strconv.FormatBool(v) }
func list(v []string) string {
	return strings.Join(v, ";")
}

// opt renders a value only when its presence flag is set.
func opt(v float64, has bool) string {
	if !has {
		return ""
	}
	return f(v)
}

func writeSiteFlux(w *csv.Writer, rows []model.FluxRecord) error {
	if err := w.Write([]string{
		"site_id", "site_name", "aquifer_id", "category", "substance", "scenario",
		"is_model_substance", "distance_m",
		"segment_fid", "segment_ref", "segment_name", "segment_length_m", "segment_aquifer",
		"area_m2", "infiltration_mm_yr", "concentration_ug_l",
		"flux_ug_yr", "flux_mg_yr", "flux_g_yr", "flux_kg_yr",
	}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.SiteID, r.SiteName, r.AquiferID, r.Category, r.Substance, r.Scenario,
			b(r.IsModel), f(r.DistanceM),
			i(r.SegmentFID), r.SegmentRef, r.SegmentName, f(r.SegmentLengthM), r.SegmentAquifer,
			f(r.AreaM2), f(r.InfiltrationMMYr), f(r.ConcentrationUgL),
			f(r.FluxUgYr), f(r.FluxMgYr), f(r.FluxGYr), f(r.FluxKgYr),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeSegmentFlux(w *csv.Writer, rows []model.SegmentAggregate) error {
	if err := w.Write([]string{
		"segment_fid", "segment_ref", "segment_name", "segment_length_m", "segment_aquifer",
		"category", "substance", "scenario", "is_model_substance",
		"flux_ug_yr", "flux_mg_yr", "flux_g_yr", "flux_kg_yr",
		"site_count", "site_ids", "min_distance_m", "max_distance_m",
	}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			i(r.SegmentFID), r.SegmentRef, r.SegmentName, f(r.SegmentLengthM), r.SegmentAquifer,
			r.Category, r.Substance, r.Scenario, b(r.IsModel),
			f(r.FluxUgYr), f(r.FluxMgYr), f(r.FluxGYr), f(r.FluxKgYr),
			i(r.SiteCount), list(r.SiteIDs), f(r.MinDistanceM), f(r.MaxDistanceM),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeCmix(w *csv.Writer, rows []model.CmixResult) error {
	if err := w.Write([]string{
		"segment_fid", "segment_ref", "segment_name", "segment_aquifer",
		"category", "substance", "scenario",
		"flow_scenario", "flow_m3_s", "flux_kg_yr", "flux_ug_s",
		"cmix_ug_l", "threshold_ug_l", "exceedance_ratio", "exceeds",
	}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			i(r.SegmentFID), r.SegmentRef, r.SegmentName, r.SegmentAquifer,
			r.Category, r.Substance, r.Scenario,
			r.FlowScenario, opt(r.FlowM3S, r.HasFlow), f(r.FluxKgYr), opt(r.FluxUgS, r.HasFlow),
			opt(r.CmixUgL, r.HasFlow), opt(r.ThresholdUgL, r.HasThreshold),
			opt(r.ExceedanceRatio, r.HasRatio), b(r.Exceeds),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeSummaries(w *csv.Writer, rows []model.SegmentSummary) error {
	if err := w.Write([]string{
		"segment_fid", "segment_ref", "segment_name", "segment_aquifer",
		"total_flux_kg_yr", "max_cmix_ug_l", "max_exceedance_ratio", "has_exceedance",
		"categories", "flow_scenarios", "failing_scenarios",
		"site_count", "site_ids",
	}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			i(r.SegmentFID), r.SegmentRef, r.SegmentName, r.SegmentAquifer,
			f(r.TotalFluxKgYr), opt(r.MaxCmixUgL, r.HasCmix), opt(r.MaxExceedanceRatio, r.HasRatio),
			b(r.HasExceedance),
			list(r.Categories), list(r.FlowScenarios), list(r.FailingScenarios),
			i(r.SiteCount), list(r.SiteIDs),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeAudit(w *csv.Writer, rows []assess.Exclusion) error {
	if err := w.Write([]string{
		"stage", "reason", "site_id", "aquifer_id", "category", "substance", "detail",
	}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.Stage, r.Reason, r.SiteID, r.AquiferID, r.Category, r.Substance, r.Detail,
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeSiteExceedances(w *csv.Writer, rows []model.SiteExceedance) error {
	if err := w.Write([]string{
		"site_id", "site_name", "aquifer_id", "category", "substance", "scenario",
		"segment_fid", "segment_ref", "segment_name",
		"flow_scenario", "flow_m3_s",
		"site_flux_kg_yr", "segment_flux_kg_yr",
		"cmix_ug_l", "threshold_ug_l", "exceedance_ratio",
	}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.SiteID, r.SiteName, r.AquiferID, r.Category, r.Substance, r.Scenario,
			i(r.SegmentFID), r.SegmentRef, r.SegmentName,
			r.FlowScenario, f(r.FlowM3S),
			f(r.FluxKgYr), f(r.SegmentFluxKgYr),
			f(r.CmixUgL), f(r.ThresholdUgL), f(r.ExceedanceRatio),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeAquiferExceedances(w *csv.Writer, rows []model.AquiferExceedance) error {
	if err := w.Write([]string{
		"aquifer_id", "segment_fid", "segment_ref", "segment_name",
		"site_count", "site_ids", "categories", "substances", "flow_scenarios",
		"site_flux_kg_yr", "segment_flux_kg_yr",
		"max_cmix_ug_l", "max_threshold_ug_l", "max_exceedance_ratio",
	}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.AquiferID, i(r.SegmentFID), r.SegmentRef, r.SegmentName,
			i(r.SiteCount), list(r.SiteIDs), list(r.Categories), list(r.Substances), list(r.FlowScenarios),
			f(r.SiteFluxKgYr), f(r.SegmentFluxKgYr),
			f(r.MaxCmixUgL), f(r.MaxThresholdUgL), f(r.MaxExceedanceRatio),
		}); err != nil {
			return err
		}
	}
	return nil
}
