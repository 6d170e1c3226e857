package assess

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/model"
	"github.com/miljoportal/tilstand/internal/raster"
)

// Enricher attaches geometry, model layers, infiltration, and river segment
// metadata to qualifying records. Rows that cannot be enriched are either
// excluded with an audit entry (layer and infiltration problems) or abort
// the run (geometry and river metadata problems).
type Enricher struct {
	Sites    map[string]*model.SiteGeometry
	Mappings map[string]model.LayerMapping
	Segments map[int]model.SegmentMeta
	Sampler  *raster.Sampler

	Log   *zap.Logger
	Audit *Audit
}

// Enrich runs the full enrichment sequence over the input rows.
func (e *Enricher) Enrich(records []model.QualifyingRecord) ([]model.EnrichedRecord, error) {
	if err := e.checkGeometry(records); err != nil {
		return nil, err
	}

	mapped := e.filterLayerMapping(records)
	enriched, err := e.sampleInfiltration(mapped)
	if err != nil {
		return nil, err
	}
	enriched = e.filterNegativeInfiltration(enriched)

	if err := e.attachSegments(enriched); err != nil {
		return nil, err
	}

	e.logSamplingStats(enriched)
	return enriched, nil
}

// checkGeometry verifies every referenced site has a polygon. Missing
// geometry is a dataset defect, not a row-level condition.
func (e *Enricher) checkGeometry(records []model.QualifyingRecord) error {
	missing := make(map[string]struct{})
	for _, rec := range records {
		if _, ok := e.Sites[rec.SiteID]; !ok {
			missing[rec.SiteID] = struct{}{}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	ids := model.SortedKeys(missing)
	listed := ids
	if len(listed) > 20 {
		listed = listed[:20]
	}
	return eris.Wrapf(ErrMissingGeometry, "%d sites, first: %s",
		len(ids), strings.Join(listed, ", "))
}

func (e *Enricher) filterLayerMapping(records []model.QualifyingRecord) []model.QualifyingRecord {
	const stage = "layer_mapping"
	before := populationOf(records, qrSite, qrAquifer)

	kept := records[:0:0]
	for _, rec := range records {
		mapping, ok := e.Mappings[rec.AquiferID]
		if !ok || len(mapping.Layers) == 0 {
			e.Audit.Exclude(stage, ReasonMissingLayerMapping, rec, "")
			continue
		}
		kept = append(kept, rec)
	}

	e.Audit.Stage(e.Log, stage, before, populationOf(kept, qrSite, qrAquifer))
	return kept
}

// sampleInfiltration samples every mapped layer of a record's aquifer and
// combines the layer values by arithmetic mean. Rows with no grid coverage
// on any layer are excluded.
func (e *Enricher) sampleInfiltration(records []model.QualifyingRecord) ([]model.EnrichedRecord, error) {
	const stage = "infiltration_coverage"
	before := populationOf(records, qrSite, qrAquifer)

	var out []model.EnrichedRecord
	for _, rec := range records {
		site := e.Sites[rec.SiteID]
		mapping := e.Mappings[rec.AquiferID]

		var sum, centroid, polyMean, polyMin, polyMax float64
		var centroidN, polyMeanN, polyMinN, polyMaxN int
		var pixels, covered int
		for _, layer := range mapping.Layers {
			sample, err := e.Sampler.Sample(site, layer, mapping.Region)
			if err != nil {
				return nil, eris.Wrapf(err, "assess: sample site %s layer %s", rec.SiteID, layer)
			}
			if sample.HasValue {
				sum += sample.Combined
				if sample.Centroid != nil {
					centroid += *sample.Centroid
					centroidN++
				}
				if sample.PolygonMean != nil {
					polyMean += *sample.PolygonMean
					polyMeanN++
				}
				if sample.PolygonMin != nil {
					polyMin += *sample.PolygonMin
					polyMinN++
				}
				if sample.PolygonMax != nil {
					polyMax += *sample.PolygonMax
					polyMaxN++
				}
				pixels += sample.PixelCount
				covered++
			}
		}
		if covered == 0 {
			e.Audit.Exclude(stage, ReasonOutOfCoverage, rec,
				fmt.Sprintf("no grid coverage on layers %s", strings.Join(mapping.Layers, ";")))
			continue
		}

		// Diagnostic columns are the mean of each statistic over the
		// layers that carry it (a layer can have centroid-only or
		// polygon-only coverage); nil when no layer carries it.
		out = append(out, model.EnrichedRecord{
			QualifyingRecord: rec,
			AreaM2:           site.AreaM2,
			Layers:           mapping.Layers,
			Region:           mapping.Region,
			InfiltrationMMYr: sum / float64(covered),

			CentroidInfiltrationMMYr: meanPtr(centroid, centroidN),
			PolygonInfiltrationMMYr:  meanPtr(polyMean, polyMeanN),
			PolygonMinMMYr:           meanPtr(polyMin, polyMinN),
			PolygonMaxMMYr:           meanPtr(polyMax, polyMaxN),
			PolygonPixelCount:        pixels / covered,
		})
	}

	e.Audit.Stage(e.Log, stage, before, populationOf(out, erSite, erAquifer))
	return out, nil
}

// filterNegativeInfiltration drops rows whose combined infiltration is
// negative. Cleaning zeroes negative pixels during sampling, so this filter
// normally removes nothing; applying it twice removes nothing more.
func (e *Enricher) filterNegativeInfiltration(records []model.EnrichedRecord) []model.EnrichedRecord {
	const stage = "negative_infiltration"
	before := populationOf(records, erSite, erAquifer)

	kept := records[:0:0]
	for _, rec := range records {
		if rec.InfiltrationMMYr < 0 {
			e.Audit.Exclude(stage, ReasonNegativeInfiltration, rec.QualifyingRecord,
				fmt.Sprintf("%.3f mm/yr", rec.InfiltrationMMYr))
			continue
		}
		kept = append(kept, rec)
	}

	e.Audit.Stage(e.Log, stage, before, populationOf(kept, erSite, erAquifer))
	return kept
}

// attachSegments joins river attributes onto each row and cross-checks the
// upstream segment reference against the river dataset. Disagreement means
// the inputs come from different dataset revisions.
func (e *Enricher) attachSegments(records []model.EnrichedRecord) error {
	for i := range records {
		rec := &records[i]
		seg, ok := e.Segments[rec.SegmentFID]
		if !ok {
			return eris.Wrapf(ErrMissingSegment, "site %s fid %d", rec.SiteID, rec.SegmentFID)
		}
		if rec.SegmentRef != "" && seg.Ref != "" && rec.SegmentRef != seg.Ref {
			return eris.Wrapf(ErrSegmentMismatch, "site %s fid %d: record says %s, dataset says %s",
				rec.SiteID, rec.SegmentFID, rec.SegmentRef, seg.Ref)
		}
		if rec.SegmentRef == "" {
			rec.SegmentRef = seg.Ref
		}
		rec.SegmentName = seg.Name
		rec.SegmentLengthM = seg.LengthM
		rec.SegmentAquifer = seg.AquiferID
	}
	return nil
}

func (e *Enricher) logSamplingStats(records []model.EnrichedRecord) {
	polygon, centroid := 0, 0
	seen := make(map[string]struct{})
	for _, rec := range records {
		if _, ok := seen[rec.SiteID]; ok {
			continue
		}
		seen[rec.SiteID] = struct{}{}
		if rec.PolygonPixelCount > 0 {
			polygon++
		} else {
			centroid++
		}
	}

	stats := e.Sampler.Stats()
	e.Log.Info("infiltration sampling",
		zap.Int("sites_polygon_sampled", polygon),
		zap.Int("sites_centroid_sampled", centroid),
		zap.Int("pixels_zeroed", stats.PixelsZeroed),
		zap.Int("pixels_capped", stats.PixelsCapped),
		zap.Int("centroids_zeroed", stats.CentroidsZeroed),
		zap.Int("centroids_capped", stats.CentroidsCapped),
		zap.Int("sites_with_zeroed_pixels", len(stats.SitesWithZeroed)),
		zap.Int("sites_with_capped_pixels", len(stats.SitesWithCapped)),
	)
}

// meanPtr returns the mean of sum over n carrying layers, or nil when
// no layer carried the statistic.
func meanPtr(sum float64, n int) *float64 {
	if n == 0 {
		return nil
	}
	v := sum / float64(n)
	return &v
}

func qrSite(r model.QualifyingRecord) string    { return r.SiteID }
func qrAquifer(r model.QualifyingRecord) string { return r.AquiferID }
func erSite(r model.EnrichedRecord) string      { return r.SiteID }
func erAquifer(r model.EnrichedRecord) string   { return r.AquiferID }

// sortExclusions orders the audit trail for deterministic export.
func sortExclusions(ex []Exclusion) {
	sort.Slice(ex, func(i, j int) bool {
		a, b := ex[i], ex[j]
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.SiteID != b.SiteID {
			return a.SiteID < b.SiteID
		}
		if a.AquiferID != b.AquiferID {
			return a.AquiferID < b.AquiferID
		}
		return a.Substance < b.Substance
	})
}
