package assess

import (
	"sort"

	"github.com/miljoportal/tilstand/internal/model"
)

type aggKey struct {
	fid      int
	category string
	scenario string
}

// AggregateBySegment sums flux per (segment, category, scenario). Every flux
// record in a group contributes: a site reaching the segment through several
// aquifers adds one term per aquifer row.
func AggregateBySegment(records []model.FluxRecord) []model.SegmentAggregate {
	type bucket struct {
		rep     model.FluxRecord
		ugYr    float64
		sites   map[string]struct{}
		minDist float64
		maxDist float64
	}

	buckets := make(map[aggKey]*bucket)
	var order []aggKey

	for _, rec := range records {
		key := aggKey{fid: rec.SegmentFID, category: rec.Category, scenario: rec.Scenario}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				rep:     rec,
				sites:   make(map[string]struct{}),
				minDist: rec.DistanceM,
				maxDist: rec.DistanceM,
			}
			buckets[key] = b
			order = append(order, key)
		}
		b.ugYr += rec.FluxUgYr
		b.sites[rec.SiteID] = struct{}{}
		if rec.DistanceM < b.minDist {
			b.minDist = rec.DistanceM
		}
		if rec.DistanceM > b.maxDist {
			b.maxDist = rec.DistanceM
		}
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.fid != b.fid {
			return a.fid < b.fid
		}
		if a.category != b.category {
			return a.category < b.category
		}
		return a.scenario < b.scenario
	})

	out := make([]model.SegmentAggregate, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		ugYr := b.ugYr
		siteIDs := model.SortedKeys(b.sites)

		out = append(out, model.SegmentAggregate{
			SegmentFID:     b.rep.SegmentFID,
			SegmentRef:     b.rep.SegmentRef,
			SegmentName:    b.rep.SegmentName,
			SegmentLengthM: b.rep.SegmentLengthM,
			SegmentAquifer: b.rep.SegmentAquifer,

			Category:  b.rep.Category,
			Substance: b.rep.Substance,
			Scenario:  b.rep.Scenario,
			IsModel:   b.rep.IsModel,

			FluxUgYr: ugYr,
			FluxMgYr: ugYr / ugPerMg,
			FluxGYr:  ugYr / ugPerG,
			FluxKgYr: ugYr / ugPerKg,

			SiteCount:    len(siteIDs),
			SiteIDs:      siteIDs,
			MinDistanceM: b.minDist,
			MaxDistanceM: b.maxDist,
			SegmentCount: b.rep.SegmentCount,
		})
	}
	return out
}
