package assess

import (
	"fmt"
	"sort"

	"github.com/miljoportal/tilstand/internal/model"
)

// SummarizeSegments builds the worst-case view per river segment across all
// categories, scenarios, and flow scenarios.
func SummarizeSegments(aggregates []model.SegmentAggregate, cmix []model.CmixResult) []model.SegmentSummary {
	type bucket struct {
		summary    model.SegmentSummary
		categories map[string]struct{}
		flows      map[string]struct{}
		failing    map[string]struct{}
		sites      map[string]struct{}
	}

	buckets := make(map[int]*bucket)
	get := func(fid int, ref, name, aquifer string) *bucket {
		b, ok := buckets[fid]
		if !ok {
			b = &bucket{
				summary: model.SegmentSummary{
					SegmentFID:     fid,
					SegmentRef:     ref,
					SegmentName:    name,
					SegmentAquifer: aquifer,
				},
				categories: make(map[string]struct{}),
				flows:      make(map[string]struct{}),
				failing:    make(map[string]struct{}),
				sites:      make(map[string]struct{}),
			}
			buckets[fid] = b
		}
		return b
	}

	for _, agg := range aggregates {
		b := get(agg.SegmentFID, agg.SegmentRef, agg.SegmentName, agg.SegmentAquifer)
		b.summary.TotalFluxKgYr += agg.FluxKgYr
		b.categories[agg.Category] = struct{}{}
		for _, site := range agg.SiteIDs {
			b.sites[site] = struct{}{}
		}
	}

	for _, res := range cmix {
		b := get(res.SegmentFID, res.SegmentRef, res.SegmentName, res.SegmentAquifer)
		if !res.HasFlow {
			continue
		}
		b.flows[res.FlowScenario] = struct{}{}
		if !b.summary.HasCmix || res.CmixUgL > b.summary.MaxCmixUgL {
			b.summary.MaxCmixUgL = res.CmixUgL
			b.summary.HasCmix = true
		}
		if res.HasRatio {
			if !b.summary.HasRatio || res.ExceedanceRatio > b.summary.MaxExceedanceRatio {
				b.summary.MaxExceedanceRatio = res.ExceedanceRatio
				b.summary.HasRatio = true
			}
		}
		if res.Exceeds {
			b.summary.HasExceedance = true
			b.failing[fmt.Sprintf("%s (%s)", res.Scenario, res.FlowScenario)] = struct{}{}
		}
	}

	fids := make([]int, 0, len(buckets))
	for fid := range buckets {
		fids = append(fids, fid)
	}
	sort.Ints(fids)

	out := make([]model.SegmentSummary, 0, len(fids))
	for _, fid := range fids {
		b := buckets[fid]
		b.summary.Categories = model.SortedKeys(b.categories)
		b.summary.FlowScenarios = model.SortedKeys(b.flows)
		b.summary.FailingScenarios = model.SortedKeys(b.failing)
		b.summary.SiteIDs = model.SortedKeys(b.sites)
		b.summary.SiteCount = len(b.summary.SiteIDs)
		out = append(out, b.summary)
	}
	return out
}

// SiteExceedances joins every exceeding dilution result back to the site
// flux records that contributed to it: one row per (site flux record,
// exceeding flow scenario).
func SiteExceedances(flux []model.FluxRecord, cmix []model.CmixResult) []model.SiteExceedance {
	byGroup := make(map[aggKey][]int)
	for i, rec := range flux {
		key := aggKey{fid: rec.SegmentFID, category: rec.Category, scenario: rec.Scenario}
		byGroup[key] = append(byGroup[key], i)
	}

	var out []model.SiteExceedance
	for _, res := range cmix {
		if !res.Exceeds {
			continue
		}
		key := aggKey{fid: res.SegmentFID, category: res.Category, scenario: res.Scenario}
		for _, i := range byGroup[key] {
			out = append(out, model.SiteExceedance{
				FluxRecord:      flux[i],
				FlowScenario:    res.FlowScenario,
				FlowM3S:         res.FlowM3S,
				CmixUgL:         res.CmixUgL,
				ThresholdUgL:    res.ThresholdUgL,
				ExceedanceRatio: res.ExceedanceRatio,
				SegmentFluxKgYr: res.FluxKgYr,
			})
		}
	}

	// Worst ratios first; ties ordered by site flux, then stably by site id.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExceedanceRatio != out[j].ExceedanceRatio {
			return out[i].ExceedanceRatio > out[j].ExceedanceRatio
		}
		if out[i].FluxUgYr != out[j].FluxUgYr {
			return out[i].FluxUgYr > out[j].FluxUgYr
		}
		return out[i].SiteID < out[j].SiteID
	})
	return out
}

// AquiferExceedances rolls the site exceedance view up per (aquifer,
// segment). Flux sums count each (site, category, scenario) once even when
// it exceeds under several flow scenarios.
func AquiferExceedances(site []model.SiteExceedance) []model.AquiferExceedance {
	type rollKey struct {
		aquiferID string
		fid       int
	}
	type fluxKey struct {
		siteID   string
		category string
		scenario string
	}
	type bucket struct {
		out        model.AquiferExceedance
		sites      map[string]struct{}
		categories map[string]struct{}
		substances map[string]struct{}
		flows      map[string]struct{}
		siteFlux   map[fluxKey]float64
		segFlux    map[string]float64 // category|scenario -> segment flux kg/yr
	}

	buckets := make(map[rollKey]*bucket)
	var order []rollKey

	for _, e := range site {
		key := rollKey{aquiferID: e.AquiferID, fid: e.SegmentFID}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				out: model.AquiferExceedance{
					AquiferID:      e.AquiferID,
					SegmentFID:     e.SegmentFID,
					SegmentRef:     e.SegmentRef,
					SegmentName:    e.SegmentName,
					SegmentAquifer: e.SegmentAquifer,
				},
				sites:      make(map[string]struct{}),
				categories: make(map[string]struct{}),
				substances: make(map[string]struct{}),
				flows:      make(map[string]struct{}),
				siteFlux:   make(map[fluxKey]float64),
				segFlux:    make(map[string]float64),
			}
			buckets[key] = b
			order = append(order, key)
		}

		b.sites[e.SiteID] = struct{}{}
		b.categories[e.Category] = struct{}{}
		b.substances[e.Substance] = struct{}{}
		b.flows[e.FlowScenario] = struct{}{}
		b.siteFlux[fluxKey{siteID: e.SiteID, category: e.Category, scenario: e.Scenario}] = e.FluxKgYr
		b.segFlux[e.Category+"|"+e.Scenario] = e.SegmentFluxKgYr

		if e.CmixUgL > b.out.MaxCmixUgL {
			b.out.MaxCmixUgL = e.CmixUgL
		}
		if e.ThresholdUgL > b.out.MaxThresholdUgL {
			b.out.MaxThresholdUgL = e.ThresholdUgL
		}
		if e.ExceedanceRatio > b.out.MaxExceedanceRatio {
			b.out.MaxExceedanceRatio = e.ExceedanceRatio
		}
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.aquiferID != b.aquiferID {
			return a.aquiferID < b.aquiferID
		}
		return a.fid < b.fid
	})

	out := make([]model.AquiferExceedance, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		b.out.SiteIDs = model.SortedKeys(b.sites)
		b.out.SiteCount = len(b.out.SiteIDs)
		b.out.Categories = model.SortedKeys(b.categories)
		b.out.Substances = model.SortedKeys(b.substances)
		b.out.FlowScenarios = model.SortedKeys(b.flows)
		for _, v := range b.siteFlux {
			b.out.SiteFluxKgYr += v
		}
		for _, v := range b.segFlux {
			b.out.SegmentFluxKgYr += v
		}
		out = append(out, b.out)
	}
	return out
}
