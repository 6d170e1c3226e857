package raster

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/model"
)

// DefaultCapMMYr is the upper bound applied to raw grid values; observed
// values above it are measurement artifacts in the source grids.
const DefaultCapMMYr = 750

// LayerSample is the result of sampling one infiltration grid for one site.
type LayerSample struct {
	// Combined is the polygon mean when polygon sampling covered at least
	// one cell, otherwise the centroid value. HasValue is false when
	// neither strategy produced a usable value.
	Combined float64
	HasValue bool

	Centroid    *float64
	PolygonMean *float64
	PolygonMin  *float64
	PolygonMax  *float64
	PixelCount  int

	PixelsZeroed   int
	PixelsCapped   int
	CentroidZeroed bool
	CentroidCapped bool
}

// Stats accumulates value-cleaning counters across all samples of a run.
type Stats struct {
	PixelsZeroed    int
	PixelsCapped    int
	CentroidsZeroed int
	CentroidsCapped int
	SitesWithZeroed map[string]struct{}
	SitesWithCapped map[string]struct{}
}

type sampleKey struct {
	siteID string
	layer  string
}

// Sampler lazily loads infiltration grids and memoizes samples per
// (site, layer) pair. Construct one per run; it is never invalidated
// mid-run because geometries and grids are immutable for the run.
// Not safe for concurrent use; the pipeline is single-threaded.
type Sampler struct {
	dir           string
	defaultRegion string
	capMMYr       float64

	grids   map[string]*Grid // filename -> parsed grid; nil entry = file absent
	samples map[sampleKey]LayerSample
	stats   Stats
	log     *zap.Logger
}

// NewSampler creates a sampler over a directory of per-layer grids.
// capMMYr <= 0 selects DefaultCapMMYr.
func NewSampler(dir, defaultRegion string, capMMYr float64) *Sampler {
	if capMMYr <= 0 {
		capMMYr = DefaultCapMMYr
	}
	return &Sampler{
		dir:           dir,
		defaultRegion: defaultRegion,
		capMMYr:       capMMYr,
		grids:         make(map[string]*Grid),
		samples:       make(map[sampleKey]LayerSample),
		stats: Stats{
			SitesWithZeroed: make(map[string]struct{}),
			SitesWithCapped: make(map[string]struct{}),
		},
		log: zap.L().With(zap.String("component", "raster.sampler")),
	}
}

// Stats returns the accumulated cleaning counters.
func (s *Sampler) Stats() Stats { return s.stats }

// Filename returns the grid filename for a (region, layer) pair.
func Filename(region, layer string) string {
	return fmt.Sprintf("%s_gvd_%s.asc", region, layer)
}

// Sample returns the memoized infiltration sample for (site, layer),
// computing it on first use. A missing grid file yields a sample with
// HasValue false, the same as a total coverage miss.
func (s *Sampler) Sample(site *model.SiteGeometry, layer, region string) (LayerSample, error) {
	key := sampleKey{siteID: site.SiteID, layer: layer}
	if cached, ok := s.samples[key]; ok {
		return cached, nil
	}

	grid, err := s.grid(region, layer)
	if err != nil {
		return LayerSample{}, err
	}

	var sample LayerSample
	if grid != nil {
		sample = s.sampleGrid(grid, site)
	}

	s.stats.PixelsZeroed += sample.PixelsZeroed
	s.stats.PixelsCapped += sample.PixelsCapped
	if sample.PixelsZeroed > 0 {
		s.stats.SitesWithZeroed[site.SiteID] = struct{}{}
	}
	if sample.PixelsCapped > 0 {
		s.stats.SitesWithCapped[site.SiteID] = struct{}{}
	}
	if sample.CentroidZeroed {
		s.stats.CentroidsZeroed++
	}
	if sample.CentroidCapped {
		s.stats.CentroidsCapped++
	}

	s.samples[key] = sample
	return sample, nil
}

// grid loads (or recalls) the grid for a (region, layer) pair, falling back
// to the default-region file when the regional file is absent. Returns nil
// without error when no file exists at all.
func (s *Sampler) grid(region, layer string) (*Grid, error) {
	if region == "" {
		region = s.defaultRegion
	}
	name := Filename(region, layer)
	if g, ok := s.grids[name]; ok {
		return g, nil
	}

	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		if region != s.defaultRegion {
			fallback := Filename(s.defaultRegion, layer)
			fallbackPath := filepath.Join(s.dir, fallback)
			if _, err := os.Stat(fallbackPath); err == nil {
				g, err := s.load(fallbackPath)
				if err != nil {
					return nil, err
				}
				s.grids[name] = g
				s.grids[fallback] = g
				return g, nil
			}
		}
		s.log.Warn("infiltration grid not found",
			zap.String("layer", layer),
			zap.String("region", region),
			zap.String("file", name),
		)
		s.grids[name] = nil
		return nil, nil
	}

	g, err := s.load(path)
	if err != nil {
		return nil, err
	}
	s.grids[name] = g
	return g, nil
}

func (s *Sampler) load(path string) (*Grid, error) {
	g, err := ReadASCII(path)
	if err != nil {
		return nil, err
	}
	s.log.Debug("loaded infiltration grid",
		zap.String("file", filepath.Base(path)),
		zap.Int("ncols", g.NCols),
		zap.Int("nrows", g.NRows),
	)
	return g, nil
}

// clean zeroes negative values (upward flux) and caps values above the cap.
func (s *Sampler) clean(v float64) (cleaned float64, zeroed, capped bool) {
	if v < 0 {
		return 0, true, false
	}
	if v > s.capMMYr {
		return s.capMMYr, false, true
	}
	return v, false, false
}

func (s *Sampler) sampleGrid(g *Grid, site *model.SiteGeometry) LayerSample {
	var sample LayerSample

	// Centroid value.
	if raw, ok := g.At(site.Centroid.X(), site.Centroid.Y()); ok {
		v, zeroed, capped := s.clean(raw)
		sample.Centroid = &v
		sample.CentroidZeroed = zeroed
		sample.CentroidCapped = capped
	}

	// Polygon coverage: every grid cell whose center lies inside the
	// dissolved site polygon.
	if site.Polygon != nil {
		mean, min, max, count, zeroed, capped := s.samplePolygon(g, site.Polygon)
		if count > 0 {
			sample.PolygonMean = &mean
			sample.PolygonMin = &min
			sample.PolygonMax = &max
			sample.PixelCount = count
			sample.PixelsZeroed = zeroed
			sample.PixelsCapped = capped
		}
	}

	switch {
	case sample.PolygonMean != nil:
		sample.Combined = *sample.PolygonMean
		sample.HasValue = true
	case sample.Centroid != nil:
		sample.Combined = *sample.Centroid
		sample.HasValue = true
	}
	return sample
}

func (s *Sampler) samplePolygon(g *Grid, mp *geom.MultiPolygon) (mean, min, max float64, count, zeroed, capped int) {
	b := mp.Bounds()
	minCol := int(math.Floor((b.Min(0) - g.XLL) / g.CellSize))
	maxCol := int(math.Floor((b.Max(0) - g.XLL) / g.CellSize))
	minRow := g.NRows - 1 - int(math.Floor((b.Max(1)-g.YLL)/g.CellSize))
	maxRow := g.NRows - 1 - int(math.Floor((b.Min(1)-g.YLL)/g.CellSize))

	if minCol < 0 {
		minCol = 0
	}
	if minRow < 0 {
		minRow = 0
	}
	if maxCol >= g.NCols {
		maxCol = g.NCols - 1
	}
	if maxRow >= g.NRows {
		maxRow = g.NRows - 1
	}

	min = math.Inf(1)
	max = math.Inf(-1)
	var sum float64

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			cx, cy := g.CellCenter(col, row)
			if !pointInMultiPolygon(mp, cx, cy) {
				continue
			}
			raw, ok := g.at(col, row)
			if !ok {
				continue
			}
			v, z, c := s.clean(raw)
			if z {
				zeroed++
			}
			if c {
				capped++
			}
			sum += v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			count++
		}
	}

	if count > 0 {
		mean = sum / float64(count)
	}
	return mean, min, max, count, zeroed, capped
}

// pointInMultiPolygon tests containment with an even-odd ray cast across all
// rings, so holes are handled without treating them specially.
func pointInMultiPolygon(mp *geom.MultiPolygon, x, y float64) bool {
	inside := false
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		for j := 0; j < p.NumLinearRings(); j++ {
			ring := p.LinearRing(j)
			n := ring.NumCoords()
			for a, b := 0, n-1; a < n; b, a = a, a+1 {
				ax, ay := ring.Coord(a).X(), ring.Coord(a).Y()
				bx, by := ring.Coord(b).X(), ring.Coord(b).Y()
				if (ay > y) != (by > y) &&
					x < (bx-ax)*(y-ay)/(by-ay)+ax {
					inside = !inside
				}
			}
		}
	}
	return inside
}
