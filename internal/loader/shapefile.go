package loader

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/model"
)

// River shapefile attribute names.
const (
	fieldSegmentRef     = "ov_id"
	fieldSegmentName    = "ov_navn"
	fieldSegmentAquifer = "GVForekom"
)

// LoadSites reads the site polygon dataset and derives one dissolved
// geometry per site identifier with its area and centroid. Multiple parcels
// of one site merge into a single MultiPolygon.
func LoadSites(path, idField string) (map[string]*model.SiteGeometry, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open site shapefile %s", path)
	}
	defer reader.Close() //nolint:errcheck

	idIdx := fieldIndex(reader, idField)
	if idIdx < 0 {
		return nil, eris.Errorf("loader: site shapefile missing field %q", idField)
	}

	polygons := make(map[string][]*geom.Polygon)
	var order []string

	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			continue
		}
		siteID := strings.TrimSpace(reader.Attribute(idIdx))
		if siteID == "" {
			continue
		}
		if _, seen := polygons[siteID]; !seen {
			order = append(order, siteID)
		}
		polygons[siteID] = append(polygons[siteID], shpPolygons(poly)...)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "loader: read site shapefile %s", path)
	}
	if len(polygons) == 0 {
		return nil, eris.Errorf("loader: site shapefile %s contains no polygons", path)
	}

	sites := make(map[string]*model.SiteGeometry, len(polygons))
	for _, siteID := range order {
		mp := geom.NewMultiPolygon(geom.XY)
		for _, p := range polygons[siteID] {
			if err := mp.Push(p); err != nil {
				return nil, eris.Wrapf(err, "loader: site %s: assemble geometry", siteID)
			}
		}
		centroid, err := xy.Centroid(mp)
		if err != nil {
			return nil, eris.Wrapf(err, "loader: site %s: centroid", siteID)
		}
		sites[siteID] = &model.SiteGeometry{
			SiteID:   siteID,
			AreaM2:   mp.Area(),
			Centroid: centroid,
			Polygon:  mp,
		}
	}

	zap.L().Info("loaded site geometries",
		zap.String("path", path),
		zap.Int("sites", len(sites)),
	)
	return sites, nil
}

// LoadRivers reads the river segment dataset. The segment FID is the record
// index in file order, matching the FIDs the upstream stages reference.
func LoadRivers(path, lengthField string) (map[int]model.SegmentMeta, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open river shapefile %s", path)
	}
	defer reader.Close() //nolint:errcheck

	refIdx := fieldIndex(reader, fieldSegmentRef)
	nameIdx := fieldIndex(reader, fieldSegmentName)
	lengthIdx := fieldIndex(reader, lengthField)
	aquiferIdx := fieldIndex(reader, fieldSegmentAquifer)
	if refIdx < 0 || nameIdx < 0 || lengthIdx < 0 || aquiferIdx < 0 {
		return nil, eris.Errorf(
			"loader: river shapefile missing one of fields %s, %s, %s, %s",
			fieldSegmentRef, fieldSegmentName, lengthField, fieldSegmentAquifer,
		)
	}

	segments := make(map[int]model.SegmentMeta)
	fid := 0
	for reader.Next() {
		length, _ := strconv.ParseFloat(strings.TrimSpace(reader.Attribute(lengthIdx)), 64)
		segments[fid] = model.SegmentMeta{
			FID:       fid,
			Ref:       strings.TrimSpace(reader.Attribute(refIdx)),
			Name:      strings.TrimSpace(reader.Attribute(nameIdx)),
			LengthM:   length,
			AquiferID: strings.TrimSpace(reader.Attribute(aquiferIdx)),
		}
		fid++
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "loader: read river shapefile %s", path)
	}
	if len(segments) == 0 {
		return nil, eris.Errorf("loader: river shapefile %s is empty", path)
	}

	zap.L().Info("loaded river segments",
		zap.String("path", path),
		zap.Int("segments", len(segments)),
	)
	return segments, nil
}

// LoadFlowPoints reads the discharge Q-point dataset and reduces it to the
// maximum flow per (segment, scenario). scenarioFields maps scenario name to
// DBF attribute name. Blank and unparsable values are skipped.
func LoadFlowPoints(path string, scenarioFields map[string]string) (*model.FlowTable, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open flow shapefile %s", path)
	}
	defer reader.Close() //nolint:errcheck

	refIdx := fieldIndex(reader, fieldSegmentRef)
	if refIdx < 0 {
		return nil, eris.Errorf("loader: flow shapefile missing field %q", fieldSegmentRef)
	}
	scenarioIdx := make(map[string]int, len(scenarioFields))
	for scenario, field := range scenarioFields {
		idx := fieldIndex(reader, field)
		if idx < 0 {
			return nil, eris.Errorf("loader: flow shapefile missing scenario field %q", field)
		}
		scenarioIdx[scenario] = idx
	}

	table := model.NewFlowTable()
	points := 0
	for reader.Next() {
		ref := strings.TrimSpace(reader.Attribute(refIdx))
		if ref == "" {
			continue
		}
		for scenario, idx := range scenarioIdx {
			raw := strings.TrimSpace(reader.Attribute(idx))
			if raw == "" {
				continue
			}
			flow, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			table.Record(ref, scenario, flow)
		}
		points++
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "loader: read flow shapefile %s", path)
	}

	zap.L().Info("loaded flow scenarios",
		zap.String("path", path),
		zap.Int("points", points),
		zap.Int("segments", table.Segments()),
	)
	return table, nil
}

// fieldIndex returns the index of a named DBF field, or -1. Field names are
// NUL-padded in the DBF header.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

// shpPolygons splits a shapefile polygon into go-geom polygons. Shapefile
// outer rings wind clockwise and holes counter-clockwise; each clockwise
// ring starts a new polygon, the rest attach as holes. A leading
// counter-clockwise ring (nonconforming writer) is promoted to a shell.
func shpPolygons(p *shp.Polygon) []*geom.Polygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var polys []*geom.Polygon
	var current *geom.Polygon

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 3 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedRingArea(flat) < 0 || current == nil {
			current = geom.NewPolygon(geom.XY)
			pushRing(current, ring)
			polys = append(polys, current)
			continue
		}
		pushRing(current, ring)
	}
	return polys
}

func pushRing(p *geom.Polygon, ring *geom.LinearRing) {
	if err := p.Push(ring); err != nil {
		zap.L().Debug("loader: skipping malformed ring", zap.Error(err))
	}
}

// signedRingArea is negative for clockwise rings (the shapefile shell
// convention).
func signedRingArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[i*2]*flat[j*2+1] - flat[j*2]*flat[i*2+1]
	}
	return sum / 2
}
