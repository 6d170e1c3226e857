// Package assess implements the assessment pipeline: enrichment of
// qualifying records with geometry and infiltration, concentration
// resolution, flux calculation, segment aggregation, and mixed-concentration
// evaluation against regulatory thresholds.
package assess

import (
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/model"
)

// Exclusion reasons, one per row-level filter.
const (
	ReasonMissingLayerMapping  = "missing_layer_mapping"
	ReasonOutOfCoverage        = "infiltration_out_of_coverage"
	ReasonNegativeInfiltration = "negative_infiltration"
	ReasonNoValidConcentration = "no_valid_concentration"
)

// Exclusion is one row dropped by a filter, kept for the audit trail.
type Exclusion struct {
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
	SiteID    string `json:"site_id"`
	AquiferID string `json:"aquifer_id"`
	Category  string `json:"category"`
	Substance string `json:"substance"`
	Detail    string `json:"detail,omitempty"`
}

// StageCount records the row, site, and aquifer population before and after
// one filtering stage.
type StageCount struct {
	Stage          string `json:"stage"`
	RowsBefore     int    `json:"rows_before"`
	RowsAfter      int    `json:"rows_after"`
	SitesBefore    int    `json:"sites_before"`
	SitesAfter     int    `json:"sites_after"`
	AquifersBefore int    `json:"aquifers_before"`
	AquifersAfter  int    `json:"aquifers_after"`

	// SitesRemoved counts sites that lost every row at this stage;
	// SitesReduced counts sites that lost some rows but survived.
	SitesRemoved int `json:"sites_removed"`
	SitesReduced int `json:"sites_reduced"`
}

// Audit collects exclusions and per-stage counts across a run.
type Audit struct {
	Exclusions []Exclusion
	Stages     []StageCount
}

// Exclude records one dropped row.
func (a *Audit) Exclude(stage, reason string, rec model.QualifyingRecord, detail string) {
	a.Exclusions = append(a.Exclusions, Exclusion{
		Stage:     stage,
		Reason:    reason,
		SiteID:    rec.SiteID,
		AquiferID: rec.AquiferID,
		Category:  rec.Category,
		Substance: rec.Substance,
		Detail:    detail,
	})
}

// population summarizes a record slice for stage accounting.
type population struct {
	rows     int
	sites    map[string]struct{}
	aquifers map[string]struct{}
}

func populationOf[T any](rows []T, site func(T) string, aquifer func(T) string) population {
	p := population{
		rows:     len(rows),
		sites:    make(map[string]struct{}),
		aquifers: make(map[string]struct{}),
	}
	for _, r := range rows {
		p.sites[site(r)] = struct{}{}
		p.aquifers[aquifer(r)] = struct{}{}
	}
	return p
}

// Stage records the before/after population of one filter and logs it in the
// run log. Call it after applying the filter.
func (a *Audit) Stage(log *zap.Logger, stage string, before, after population) {
	removed, reduced := 0, 0
	for site := range before.sites {
		if _, ok := after.sites[site]; !ok {
			removed++
		}
	}
	if dropped := before.rows - after.rows; dropped > 0 {
		// Sites that lost rows but still appear afterwards.
		reduced = countReducedSites(a.Exclusions, stage, after.sites)
	}

	sc := StageCount{
		Stage:          stage,
		RowsBefore:     before.rows,
		RowsAfter:      after.rows,
		SitesBefore:    len(before.sites),
		SitesAfter:     len(after.sites),
		AquifersBefore: len(before.aquifers),
		AquifersAfter:  len(after.aquifers),
		SitesRemoved:   removed,
		SitesReduced:   reduced,
	}
	a.Stages = append(a.Stages, sc)

	log.Info("filtering stage",
		zap.String("stage", stage),
		zap.Int("rows_before", sc.RowsBefore),
		zap.Int("rows_after", sc.RowsAfter),
		zap.Int("sites_before", sc.SitesBefore),
		zap.Int("sites_after", sc.SitesAfter),
		zap.Int("aquifers_before", sc.AquifersBefore),
		zap.Int("aquifers_after", sc.AquifersAfter),
		zap.Int("sites_removed", sc.SitesRemoved),
		zap.Int("sites_reduced", sc.SitesReduced),
	)
}

func countReducedSites(exclusions []Exclusion, stage string, surviving map[string]struct{}) int {
	seen := make(map[string]struct{})
	for _, e := range exclusions {
		if e.Stage != stage {
			continue
		}
		if _, ok := surviving[e.SiteID]; ok {
			seen[e.SiteID] = struct{}{}
		}
	}
	return len(seen)
}
