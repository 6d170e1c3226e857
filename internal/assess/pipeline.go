package assess

import (
	"time"

	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/model"
	"github.com/miljoportal/tilstand/internal/raster"
	"github.com/miljoportal/tilstand/internal/rules"
)

// Inputs bundles the loaded datasets for one run.
type Inputs struct {
	Records  []model.QualifyingRecord
	Sites    map[string]*model.SiteGeometry
	Mappings map[string]model.LayerMapping
	Segments map[int]model.SegmentMeta
	Flows    *model.FlowTable
	Sampler  *raster.Sampler
}

// Results holds every table a run produces.
type Results struct {
	Enriched   []model.EnrichedRecord
	Flux       []model.FluxRecord
	Aggregates []model.SegmentAggregate
	Cmix       []model.CmixResult
	Summaries  []model.SegmentSummary

	SiteExceedances    []model.SiteExceedance
	AquiferExceedances []model.AquiferExceedance

	Audit        Audit
	SamplerStats raster.Stats
}

// Counts folds the result tables into run bookkeeping numbers.
func (r *Results) Counts(inputRows int) model.RunCounts {
	sites := make(map[string]struct{})
	for _, rec := range r.Enriched {
		sites[rec.SiteID] = struct{}{}
	}
	exceeds := 0
	for _, res := range r.Cmix {
		if res.Exceeds {
			exceeds++
		}
	}
	return model.RunCounts{
		InputRows:     inputRows,
		ExcludedRows:  len(r.Audit.Exclusions),
		FluxRecords:   len(r.Flux),
		Segments:      len(r.Summaries),
		CmixRows:      len(r.Cmix),
		Exceedances:   exceeds,
		SitesAssessed: len(sites),
	}
}

// Assessor runs the five assessment stages in order over one input bundle.
// Single-threaded on purpose: run time is dominated by grid reads, which
// the sampler memoizes, and the stages form a strict data dependency chain.
type Assessor struct {
	Rules *rules.RuleSet
	Log   *zap.Logger
}

// NewAssessor wires an assessor with the process logger.
func NewAssessor(rs *rules.RuleSet) *Assessor {
	return &Assessor{
		Rules: rs,
		Log:   zap.L().With(zap.String("component", "assess")),
	}
}

// Run executes enrichment, resolution, flux calculation, aggregation, and
// dilution evaluation. Row-level problems land in the audit trail; dataset
// defects return an error and leave no partial results.
func (a *Assessor) Run(in Inputs) (*Results, error) {
	start := time.Now()
	results := &Results{}

	enricher := &Enricher{
		Sites:    in.Sites,
		Mappings: in.Mappings,
		Segments: in.Segments,
		Sampler:  in.Sampler,
		Log:      a.Log,
		Audit:    &results.Audit,
	}
	enriched, err := enricher.Enrich(in.Records)
	if err != nil {
		return nil, err
	}
	results.Enriched = enriched

	resolver := &Resolver{Rules: a.Rules, Log: a.Log, Audit: &results.Audit}
	scenarios, err := resolver.Resolve(enriched)
	if err != nil {
		return nil, err
	}

	results.Flux = CalculateFlux(scenarios)
	results.Aggregates = AggregateBySegment(results.Flux)
	results.Cmix = EvaluateCmix(results.Aggregates, in.Flows, a.Rules, a.Log)
	results.Summaries = SummarizeSegments(results.Aggregates, results.Cmix)
	results.SiteExceedances = SiteExceedances(results.Flux, results.Cmix)
	results.AquiferExceedances = AquiferExceedances(results.SiteExceedances)

	results.SamplerStats = in.Sampler.Stats()
	sortExclusions(results.Audit.Exclusions)

	a.Log.Info("assessment complete",
		zap.Int("input_rows", len(in.Records)),
		zap.Int("enriched_rows", len(enriched)),
		zap.Int("excluded_rows", len(results.Audit.Exclusions)),
		zap.Int("flux_records", len(results.Flux)),
		zap.Int("segment_aggregates", len(results.Aggregates)),
		zap.Int("cmix_rows", len(results.Cmix)),
		zap.Int("segments", len(results.Summaries)),
		zap.Int("site_exceedances", len(results.SiteExceedances)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}
