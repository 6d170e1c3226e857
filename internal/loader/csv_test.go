package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadQualifyingRecords(t *testing.T) {
	path := writeTemp(t, "records.csv", []byte(
		"Lokalitet_ID,Lokalitetsnavn,GVFK,Qualifying_Category,Qualifying_Substance,Distance_to_River_m,Nearest_River_FID,Nearest_River_ov_id,River_Segment_Count,Lokalitetensbranche,Lokalitetensaktivitet\n"+
			"123-00001,Gl. Tankstation,dkm_3646_ks,BTXER,Benzen,140.5,12,riv_0012,2,Servicestationer,Autoreparation\n"+
			"123-00002,,dkm_3646_ks,PESTICIDER,Atrazin,90,7,riv_0007,1,,\n"))

	records, err := ReadQualifyingRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	r := records[0]
	assert.Equal(t, "123-00001", r.SiteID)
	assert.Equal(t, "Gl. Tankstation", r.SiteName)
	assert.Equal(t, "dkm_3646_ks", r.AquiferID)
	assert.Equal(t, "BTXER", r.Category)
	assert.Equal(t, "Benzen", r.Substance)
	assert.InDelta(t, 140.5, r.DistanceM, 1e-9)
	assert.Equal(t, 12, r.SegmentFID)
	assert.Equal(t, "riv_0012", r.SegmentRef)
	assert.Equal(t, 2, r.SegmentCount)
	assert.Equal(t, "Servicestationer", r.Branch)
}

func TestReadQualifyingRecords_MissingColumn(t *testing.T) {
	path := writeTemp(t, "records.csv", []byte(
		"Lokalitet_ID,GVFK\n123-00001,dkm_3646_ks\n"))

	_, err := ReadQualifyingRecords(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing columns")
	assert.Contains(t, err.Error(), "Qualifying_Category")
}

func TestReadQualifyingRecords_MissingFID(t *testing.T) {
	path := writeTemp(t, "records.csv", []byte(
		"Lokalitet_ID,GVFK,Qualifying_Category,Qualifying_Substance,Distance_to_River_m,Nearest_River_FID,Nearest_River_ov_id,River_Segment_Count\n"+
			"123-00001,dkm_3646_ks,BTXER,Benzen,10,,riv_0001,1\n"))

	_, err := ReadQualifyingRecords(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nearest_River_FID")
}

func TestReadLayerMapping(t *testing.T) {
	path := writeTemp(t, "mapping.csv", []byte(
		"GVForekom;dkmlag;dknr\n"+
			"dkm_3646_ks;ks1-ks3;DKM\n"+
			"dkm_3646_ks;ks4;DKM\n"+
			"fyn_1001_kalk;Kalk: kalk; \n"+
			"tom_forekomst;;\n"))

	mappings, err := ReadLayerMapping(path, "dkm")
	require.NoError(t, err)

	m, ok := mappings["dkm_3646_ks"]
	require.True(t, ok)
	assert.Equal(t, []string{"ks1", "ks2", "ks3", "ks4"}, m.Layers)
	assert.Equal(t, "dkm", m.Region)

	m, ok = mappings["fyn_1001_kalk"]
	require.True(t, ok)
	assert.Equal(t, []string{"kalk"}, m.Layers)
	assert.Equal(t, "dkm", m.Region) // blank region falls back to default

	// Rows naming no layer are left unmapped so the enricher can report them.
	_, ok = mappings["tom_forekomst"]
	assert.False(t, ok)
}

func TestReadLayerMapping_Windows1252(t *testing.T) {
	// "sæby" with æ encoded as 0xE6, invalid as UTF-8.
	path := writeTemp(t, "mapping.csv", []byte(
		"GVForekom;dkmlag;dknr\ns\xe6by_01;ks1;DKM\n"))

	mappings, err := ReadLayerMapping(path, "dkm")
	require.NoError(t, err)

	m, ok := mappings["sæby_01"]
	require.True(t, ok)
	assert.Equal(t, []string{"ks1"}, m.Layers)
}

func TestParseLayers(t *testing.T) {
	assert.Equal(t, []string{"ks2"}, ParseLayers("ks2"))
	assert.Equal(t, []string{"kvs_0200", "kvs_0400"}, ParseLayers("kvs_0200/kvs_0400"))
	assert.Equal(t, []string{"kalk", "ks2"}, ParseLayers("Kalk: kalk; Ks2: ks2"))
	assert.Equal(t, []string{"ks1", "ks2", "ks3"}, ParseLayers("ks1-ks3"))
	assert.Equal(t, []string{"ks1", "ks2", "ks3"}, ParseLayers("ks1-3"))
	assert.Nil(t, ParseLayers(" "))

	// Implausible ranges are kept verbatim rather than expanded.
	assert.Equal(t, []string{"ks1-ks999"}, ParseLayers("ks1-ks999"))
}
