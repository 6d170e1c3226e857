// Package loader reads the assessment's file-based inputs: the qualifying
// records table, the aquifer layer mapping, the site/river/discharge
// shapefiles, and the XLSX form of the discharge table.
package loader

import (
	"encoding/csv"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/miljoportal/tilstand/internal/model"
)

// Qualifying records column names, as produced by the upstream screening
// stages.
const (
	colSiteID       = "Lokalitet_ID"
	colSiteName     = "Lokalitetsnavn"
	colAquiferID    = "GVFK"
	colCategory     = "Qualifying_Category"
	colSubstance    = "Qualifying_Substance"
	colDistance     = "Distance_to_River_m"
	colSegmentFID   = "Nearest_River_FID"
	colSegmentRef   = "Nearest_River_ov_id"
	colSegmentCount = "River_Segment_Count"
	colBranch       = "Lokalitetensbranche"
	colActivity     = "Lokalitetensaktivitet"
)

// Layer mapping column names.
const (
	colMappingAquifer = "GVForekom"
	colMappingLayer   = "dkmlag"
	colMappingRegion  = "dknr"
)

type header map[string]int

func indexHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		h[strings.TrimSpace(name)] = i
	}
	return h
}

func (h header) get(row []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ReadQualifyingRecords loads the qualifying records CSV and validates that
// every required column is present and every row carries a segment FID.
func ReadQualifyingRecords(path string) ([]model.QualifyingRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open qualifying records %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "loader: read qualifying records %s", path)
	}
	if len(rows) < 2 {
		return nil, eris.Errorf("loader: qualifying records %s is empty", path)
	}

	h := indexHeader(rows[0])
	required := []string{
		colSiteID, colAquiferID, colCategory, colSubstance,
		colDistance, colSegmentFID, colSegmentRef, colSegmentCount,
	}
	var missing []string
	for _, name := range required {
		if _, ok := h[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("loader: qualifying records missing columns: %s", strings.Join(missing, ", "))
	}

	records := make([]model.QualifyingRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		fidStr := h.get(row, colSegmentFID)
		if fidStr == "" {
			return nil, eris.Errorf("loader: qualifying records row %d missing %s", i+2, colSegmentFID)
		}
		fid, err := strconv.Atoi(fidStr)
		if err != nil {
			return nil, eris.Wrapf(err, "loader: qualifying records row %d: %s", i+2, colSegmentFID)
		}

		dist, err := strconv.ParseFloat(h.get(row, colDistance), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "loader: qualifying records row %d: %s", i+2, colDistance)
		}

		count := 0
		if s := h.get(row, colSegmentCount); s != "" {
			if count, err = strconv.Atoi(s); err != nil {
				return nil, eris.Wrapf(err, "loader: qualifying records row %d: %s", i+2, colSegmentCount)
			}
		}

		records = append(records, model.QualifyingRecord{
			SiteID:       h.get(row, colSiteID),
			SiteName:     h.get(row, colSiteName),
			AquiferID:    h.get(row, colAquiferID),
			Category:     h.get(row, colCategory),
			Substance:    h.get(row, colSubstance),
			DistanceM:    dist,
			SegmentFID:   fid,
			SegmentRef:   h.get(row, colSegmentRef),
			SegmentCount: count,
			Branch:       h.get(row, colBranch),
			Activity:     h.get(row, colActivity),
		})
	}

	zap.L().Info("loaded qualifying records",
		zap.String("path", path),
		zap.Int("rows", len(records)),
	)
	return records, nil
}

// ReadLayerMapping loads the semicolon-delimited aquifer -> model-layer
// mapping. The file ships in legacy Danish encodings, so bytes that are not
// valid UTF-8 are decoded as Windows-1252 (which also covers Latin-1).
// Duplicate aquifer rows collapse into one mapping with the union of layers.
func ReadLayerMapping(path, defaultRegion string) (map[string]model.LayerMapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: read layer mapping %s", path)
	}
	if !utf8.Valid(raw) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "loader: decode layer mapping %s", path)
		}
		raw = decoded
	}

	r := csv.NewReader(strings.NewReader(string(raw)))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "loader: parse layer mapping %s", path)
	}
	if len(rows) < 2 {
		return nil, eris.Errorf("loader: layer mapping %s is empty", path)
	}

	h := indexHeader(rows[0])
	for _, name := range []string{colMappingAquifer, colMappingLayer} {
		if _, ok := h[name]; !ok {
			return nil, eris.Errorf("loader: layer mapping missing column %s", name)
		}
	}

	type entry struct {
		layers map[string]struct{}
		order  []string
		region string
	}
	entries := make(map[string]*entry)

	for _, row := range rows[1:] {
		aquifer := h.get(row, colMappingAquifer)
		if aquifer == "" {
			continue
		}
		e, ok := entries[aquifer]
		if !ok {
			e = &entry{layers: make(map[string]struct{})}
			entries[aquifer] = e
		}
		for _, layer := range ParseLayers(h.get(row, colMappingLayer)) {
			if _, seen := e.layers[layer]; !seen {
				e.layers[layer] = struct{}{}
				e.order = append(e.order, layer)
			}
		}
		if e.region == "" {
			e.region = strings.ToLower(h.get(row, colMappingRegion))
		}
	}

	mappings := make(map[string]model.LayerMapping, len(entries))
	for aquifer, e := range entries {
		if len(e.order) == 0 {
			// Mapping row exists but names no layer; treat as unmapped so
			// the enricher excludes and reports it.
			continue
		}
		region := e.region
		if region == "" {
			region = defaultRegion
		}
		mappings[aquifer] = model.LayerMapping{
			AquiferID: aquifer,
			Layers:    e.order,
			Region:    region,
		}
	}

	zap.L().Info("loaded aquifer layer mapping",
		zap.String("path", path),
		zap.Int("aquifers", len(mappings)),
	)
	return mappings, nil
}

var layerRangeRe = regexp.MustCompile(`^([a-zæøå_]+)(\d+)[-–]([a-zæøå_]+)?(\d+)$`)

// ParseLayers splits a model-layer cell into normalized layer codes.
// Accepted forms: "ks2", "kvs_0200/kvs_0400", "Kalk: kalk; Ks2: ks2", and
// the range form "ks1-ks3" which expands to ks1, ks2, ks3.
func ParseLayers(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	var parts []string
	switch {
	case strings.Contains(value, ";"):
		parts = strings.Split(value, ";")
	case strings.Contains(value, "/"):
		parts = strings.Split(value, "/")
	default:
		parts = []string{value}
	}

	var layers []string
	seen := make(map[string]struct{})
	add := func(code string) {
		if code == "" {
			return
		}
		if _, ok := seen[code]; ok {
			return
		}
		seen[code] = struct{}{}
		layers = append(layers, code)
	}

	for _, part := range parts {
		if i := strings.Index(part, ":"); i >= 0 {
			part = part[i+1:]
		}
		code := strings.ToLower(strings.TrimSpace(part))

		if m := layerRangeRe.FindStringSubmatch(code); m != nil && (m[3] == "" || m[3] == m[1]) {
			lo, err1 := strconv.Atoi(m[2])
			hi, err2 := strconv.Atoi(m[4])
			if err1 == nil && err2 == nil && lo <= hi && hi-lo < 50 {
				for n := lo; n <= hi; n++ {
					add(m[1] + strconv.Itoa(n))
				}
				continue
			}
		}
		add(code)
	}
	return layers
}
