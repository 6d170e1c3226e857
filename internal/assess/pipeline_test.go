package assess

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/model"
	"github.com/miljoportal/tilstand/internal/raster"
	"github.com/miljoportal/tilstand/internal/rules"
)

func TestAssessorRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, raster.Filename("dkm", "ks1")), []byte(uniformGrid), 0o644))

	rs, err := rules.Load()
	require.NoError(t, err)

	flows := model.NewFlowTable()
	flows.Record("riv_0004", "Average", 2.0)
	flows.Record("riv_0004", "Q90", 1.0)
	flows.Record("riv_0004", "Q95", 0.5)

	in := Inputs{
		Records: []model.QualifyingRecord{
			qualifyingRow("123-00001", "dkm_3646_ks", 4),
		},
		Sites: map[string]*model.SiteGeometry{
			"123-00001": squareSite(t, "123-00001", 100, 100, 200),
		},
		Mappings: map[string]model.LayerMapping{
			"dkm_3646_ks": {AquiferID: "dkm_3646_ks", Layers: []string{"ks1"}, Region: "dkm"},
		},
		Segments: map[int]model.SegmentMeta{
			4: {FID: 4, Ref: "riv_0004", Name: "Grindsted Å", LengthM: 1250, AquiferID: "dkm_3646_ks"},
		},
		Flows:   flows,
		Sampler: raster.NewSampler(dir, "dkm", raster.DefaultCapMMYr),
	}

	a := &Assessor{Rules: rs, Log: zap.NewNop()}
	results, err := a.Run(in)
	require.NoError(t, err)

	// One BTXER row fans out to the two model-substance scenarios.
	require.Len(t, results.Enriched, 1)
	require.Len(t, results.Flux, 2)
	require.Len(t, results.Aggregates, 2)
	assert.Len(t, results.Cmix, 2*len(model.FlowScenarios))
	require.Len(t, results.Summaries, 1)

	// 40000 m2 x 500 mm/yr = 20000 m3/yr; Benzen at 400 ug/L is 8 kg/yr.
	benzen := results.Flux[0]
	assert.Equal(t, "BTXER__via_Benzen", benzen.Scenario)
	assert.InDelta(t, 8.0, benzen.FluxKgYr, 1e-9)

	olie := results.Flux[1]
	assert.Equal(t, "BTXER__via_Olie C10-C25", olie.Scenario)
	assert.InDelta(t, 60.0, olie.FluxKgYr, 1e-9)

	s := results.Summaries[0]
	assert.InDelta(t, 68.0, s.TotalFluxKgYr, 1e-9)
	assert.Equal(t, []string{"Average", "Q90", "Q95"}, s.FlowScenarios)
	assert.True(t, s.HasCmix)

	counts := results.Counts(len(in.Records))
	assert.Equal(t, 1, counts.InputRows)
	assert.Equal(t, 0, counts.ExcludedRows)
	assert.Equal(t, 2, counts.FluxRecords)
	assert.Equal(t, 1, counts.Segments)
	assert.Equal(t, 6, counts.CmixRows)
	assert.Equal(t, 1, counts.SitesAssessed)
}

func TestAssessorRun_AuditedExclusionsDoNotAbort(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, raster.Filename("dkm", "ks1")), []byte(uniformGrid), 0o644))

	rs, err := rules.Load()
	require.NoError(t, err)

	pfas := qualifyingRow("123-00001", "dkm_3646_ks", 4)
	pfas.Category = "PFAS"
	pfas.Substance = "PFOS"
	unmapped := qualifyingRow("123-00001", "ukendt_forekomst", 4)

	in := Inputs{
		Records: []model.QualifyingRecord{pfas, unmapped},
		Sites: map[string]*model.SiteGeometry{
			"123-00001": squareSite(t, "123-00001", 100, 100, 200),
		},
		Mappings: map[string]model.LayerMapping{
			"dkm_3646_ks": {AquiferID: "dkm_3646_ks", Layers: []string{"ks1"}, Region: "dkm"},
		},
		Segments: map[int]model.SegmentMeta{
			4: {FID: 4, Ref: "riv_0004", AquiferID: "dkm_3646_ks"},
		},
		Flows:   model.NewFlowTable(),
		Sampler: raster.NewSampler(dir, "dkm", raster.DefaultCapMMYr),
	}

	a := &Assessor{Rules: rs, Log: zap.NewNop()}
	results, err := a.Run(in)
	require.NoError(t, err)

	assert.Empty(t, results.Flux)
	require.Len(t, results.Audit.Exclusions, 2)

	// Exclusions come out sorted by stage for deterministic export.
	assert.Equal(t, "concentration", results.Audit.Exclusions[0].Stage)
	assert.Equal(t, "layer_mapping", results.Audit.Exclusions[1].Stage)

	counts := results.Counts(len(in.Records))
	assert.Equal(t, 2, counts.ExcludedRows)
	assert.Equal(t, 1, counts.SitesAssessed)
}
