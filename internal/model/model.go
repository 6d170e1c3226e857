// Package model defines the row types exchanged between assessment stages.
package model

import (
	"sort"
	"time"

	"github.com/twpayne/go-geom"
)

// QualifyingRecord is one site-aquifer-category-substance association from
// the upstream screening stages. Immutable input.
type QualifyingRecord struct {
	SiteID       string  `json:"site_id"`
	SiteName     string  `json:"site_name,omitempty"`
	AquiferID    string  `json:"aquifer_id"`
	Category     string  `json:"category"`
	Substance    string  `json:"substance"`
	DistanceM    float64 `json:"distance_m"`
	SegmentFID   int     `json:"segment_fid"`
	SegmentRef   string  `json:"segment_ref"`
	SegmentCount int     `json:"segment_count"`
	Branch       string  `json:"branch,omitempty"`   // ';'-separated free text
	Activity     string  `json:"activity,omitempty"` // ';'-separated free text
}

// SiteGeometry holds the dissolved polygon, area, and centroid for one site.
// Derived once per run from the site vector dataset, then treated read-only.
type SiteGeometry struct {
	SiteID   string
	AreaM2   float64
	Centroid geom.Coord
	Polygon  *geom.MultiPolygon
}

// LayerMapping maps one aquifer to its hydrogeological model layers.
type LayerMapping struct {
	AquiferID string
	Layers    []string
	Region    string
}

// SegmentMeta carries river segment attributes attached during enrichment.
type SegmentMeta struct {
	FID       int
	Ref       string
	Name      string
	LengthM   float64
	AquiferID string
}

// EnrichedRecord is a QualifyingRecord with geometry, layer, infiltration,
// and river metadata attached. Produced by the enricher; never mutated after.
type EnrichedRecord struct {
	QualifyingRecord

	AreaM2 float64
	Layers []string
	Region string

	// Combined infiltration in mm/year (arithmetic mean over layers,
	// polygon mean per layer with centroid fallback).
	InfiltrationMMYr float64

	CentroidInfiltrationMMYr *float64
	PolygonInfiltrationMMYr  *float64
	PolygonMinMMYr           *float64
	PolygonMaxMMYr           *float64
	PolygonPixelCount        int

	SegmentName    string
	SegmentLengthM float64
	SegmentAquifer string
}

// FluxRecord is one resolved scenario for a (site, aquifer, category)
// combination: area x infiltration x concentration in four unit scales.
type FluxRecord struct {
	SiteID    string  `json:"site_id"`
	SiteName  string  `json:"site_name,omitempty"`
	AquiferID string  `json:"aquifer_id"`
	Category  string  `json:"category"`
	Substance string  `json:"substance"` // scenario substance, or the qualifying substance
	Scenario  string  `json:"scenario"`  // "<category>__via_<substance>" for fanned-out rows
	IsModel   bool    `json:"is_model"`  // substance is a model (reference) compound
	DistanceM float64 `json:"distance_m"`

	SegmentFID     int     `json:"segment_fid"`
	SegmentRef     string  `json:"segment_ref"`
	SegmentName    string  `json:"segment_name"`
	SegmentLengthM float64 `json:"segment_length_m"`
	SegmentAquifer string  `json:"segment_aquifer"`
	SegmentCount   int     `json:"segment_count"`

	AreaM2           float64 `json:"area_m2"`
	InfiltrationMMYr float64 `json:"infiltration_mm_yr"`
	ConcentrationUgL float64 `json:"concentration_ug_l"`

	FluxUgYr float64 `json:"flux_ug_yr"`
	FluxMgYr float64 `json:"flux_mg_yr"`
	FluxGYr  float64 `json:"flux_g_yr"`
	FluxKgYr float64 `json:"flux_kg_yr"`
}

// SegmentAggregate sums flux over all sites draining to one river segment
// for a single (category, scenario substance) pair.
type SegmentAggregate struct {
	SegmentFID     int     `json:"segment_fid"`
	SegmentRef     string  `json:"segment_ref"`
	SegmentName    string  `json:"segment_name"`
	SegmentLengthM float64 `json:"segment_length_m"`
	SegmentAquifer string  `json:"segment_aquifer"`

	Category  string `json:"category"`
	Substance string `json:"substance"`
	Scenario  string `json:"scenario"`
	IsModel   bool   `json:"is_model"`

	FluxUgYr float64 `json:"flux_ug_yr"`
	FluxMgYr float64 `json:"flux_mg_yr"`
	FluxGYr  float64 `json:"flux_g_yr"`
	FluxKgYr float64 `json:"flux_kg_yr"`

	SiteCount    int      `json:"site_count"`
	SiteIDs      []string `json:"site_ids"`
	MinDistanceM float64  `json:"min_distance_m"`
	MaxDistanceM float64  `json:"max_distance_m"`
	SegmentCount int      `json:"segment_count"`
}

// CmixResult is one (segment aggregate, flow scenario) pairing with the
// diluted concentration and threshold comparison. Cmix and the derived
// fields are only meaningful when their Has flag is set.
type CmixResult struct {
	SegmentAggregate

	FlowScenario string  `json:"flow_scenario"`
	FlowM3S      float64 `json:"flow_m3_s"`
	HasFlow      bool    `json:"has_flow"`

	FluxUgS float64 `json:"flux_ug_s"`
	CmixUgL float64 `json:"cmix_ug_l"`

	ThresholdUgL float64 `json:"threshold_ug_l"`
	HasThreshold bool    `json:"has_threshold"`

	ExceedanceRatio float64 `json:"exceedance_ratio"`
	HasRatio        bool    `json:"has_ratio"`
	Exceeds         bool    `json:"exceeds"`
}

// SegmentSummary is the worst-case view of one river segment across all
// categories, scenario substances, and flow scenarios.
type SegmentSummary struct {
	SegmentFID     int    `json:"segment_fid"`
	SegmentRef     string `json:"segment_ref"`
	SegmentName    string `json:"segment_name"`
	SegmentAquifer string `json:"segment_aquifer"`

	TotalFluxKgYr float64 `json:"total_flux_kg_yr"`

	MaxCmixUgL float64 `json:"max_cmix_ug_l"`
	HasCmix    bool    `json:"has_cmix"`

	MaxExceedanceRatio float64 `json:"max_exceedance_ratio"`
	HasRatio           bool    `json:"has_ratio"`
	HasExceedance      bool    `json:"has_exceedance"`

	Categories       []string `json:"categories"`
	FlowScenarios    []string `json:"flow_scenarios"`
	FailingScenarios []string `json:"failing_scenarios"`

	SiteCount int      `json:"site_count"`
	SiteIDs   []string `json:"site_ids"`
}

// SiteExceedance joins one flux record with one exceeding Cmix row.
type SiteExceedance struct {
	FluxRecord

	FlowScenario    string  `json:"flow_scenario"`
	FlowM3S         float64 `json:"flow_m3_s"`
	CmixUgL         float64 `json:"cmix_ug_l"`
	ThresholdUgL    float64 `json:"threshold_ug_l"`
	ExceedanceRatio float64 `json:"exceedance_ratio"`
	SegmentFluxKgYr float64 `json:"segment_flux_kg_yr"`
}

// AquiferExceedance rolls site exceedances up per (aquifer, segment).
type AquiferExceedance struct {
	AquiferID      string `json:"aquifer_id"`
	SegmentFID     int    `json:"segment_fid"`
	SegmentRef     string `json:"segment_ref"`
	SegmentName    string `json:"segment_name"`
	SegmentAquifer string `json:"segment_aquifer"`

	SiteCount int      `json:"site_count"`
	SiteIDs   []string `json:"site_ids"`

	Categories    []string `json:"categories"`
	Substances    []string `json:"substances"`
	FlowScenarios []string `json:"flow_scenarios"`

	SiteFluxKgYr       float64 `json:"site_flux_kg_yr"`
	SegmentFluxKgYr    float64 `json:"segment_flux_kg_yr"`
	MaxCmixUgL         float64 `json:"max_cmix_ug_l"`
	MaxThresholdUgL    float64 `json:"max_threshold_ug_l"`
	MaxExceedanceRatio float64 `json:"max_exceedance_ratio"`
}

// RunStatus tracks a persisted assessment run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one persisted execution of the assessment pipeline.
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Inputs    RunInputs `json:"inputs"`
	Counts    RunCounts `json:"counts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunInputs records where a run's input data came from.
type RunInputs struct {
	RecordsPath      string `json:"records_path"`
	SitesPath        string `json:"sites_path"`
	RiversPath       string `json:"rivers_path"`
	FlowPath         string `json:"flow_path"`
	LayerMappingPath string `json:"layer_mapping_path"`
	RasterDir        string `json:"raster_dir"`
}

// RunCounts summarizes a completed run.
type RunCounts struct {
	InputRows     int `json:"input_rows"`
	ExcludedRows  int `json:"excluded_rows"`
	FluxRecords   int `json:"flux_records"`
	Segments      int `json:"segments"`
	CmixRows      int `json:"cmix_rows"`
	Exceedances   int `json:"exceedances"`
	SitesAssessed int `json:"sites_assessed"`
}

// SortedKeys returns the keys of a string set in sorted order.
func SortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
