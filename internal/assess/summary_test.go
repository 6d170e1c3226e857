package assess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miljoportal/tilstand/internal/model"
)

func TestSummarizeSegments(t *testing.T) {
	aggs := []model.SegmentAggregate{
		{
			SegmentFID: 4, SegmentRef: "riv_0004", SegmentName: "Grindsted Å",
			Category: "BTXER", Scenario: "BTXER__via_Benzen",
			FluxKgYr: 0.2, SiteIDs: []string{"123-00001"},
		},
		{
			SegmentFID: 4, SegmentRef: "riv_0004", SegmentName: "Grindsted Å",
			Category: "PESTICIDER", Scenario: "PESTICIDER__via_Atrazin",
			FluxKgYr: 0.3, SiteIDs: []string{"123-00001", "123-00002"},
		},
	}
	cmix := []model.CmixResult{
		{
			SegmentAggregate: aggs[0], FlowScenario: "Average",
			HasFlow: true, CmixUgL: 20, HasRatio: true, ExceedanceRatio: 2, Exceeds: true,
		},
		{
			SegmentAggregate: aggs[0], FlowScenario: "Q95",
			HasFlow: true, CmixUgL: 80, HasRatio: true, ExceedanceRatio: 8, Exceeds: true,
		},
		{
			SegmentAggregate: aggs[1], FlowScenario: "Average",
			HasFlow: true, CmixUgL: 0.1, HasRatio: true, ExceedanceRatio: 0.2,
		},
		{SegmentAggregate: aggs[1], FlowScenario: "Q90"},
	}

	summaries := SummarizeSegments(aggs, cmix)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, 4, s.SegmentFID)
	assert.InDelta(t, 0.5, s.TotalFluxKgYr, 1e-12)
	assert.Equal(t, []string{"BTXER", "PESTICIDER"}, s.Categories)
	assert.Equal(t, []string{"123-00001", "123-00002"}, s.SiteIDs)
	assert.Equal(t, 2, s.SiteCount)

	require.True(t, s.HasCmix)
	assert.InDelta(t, 80, s.MaxCmixUgL, 1e-9)
	require.True(t, s.HasRatio)
	assert.InDelta(t, 8, s.MaxExceedanceRatio, 1e-9)

	assert.True(t, s.HasExceedance)
	assert.Equal(t, []string{
		"BTXER__via_Benzen (Average)",
		"BTXER__via_Benzen (Q95)",
	}, s.FailingScenarios)

	// Only flow scenarios with usable flow are listed.
	assert.Equal(t, []string{"Average", "Q95"}, s.FlowScenarios)
}

func TestSiteExceedances_JoinsContributors(t *testing.T) {
	flux := []model.FluxRecord{
		fluxRow("123-00001", "dkm_3646_ks", 4, "BTXER__via_Benzen", 2e8, 80),
		fluxRow("123-00002", "dkm_3646_ks", 4, "BTXER__via_Benzen", 3e8, 140),
		fluxRow("123-00003", "dkm_3646_ks", 7, "BTXER__via_Benzen", 1e8, 60),
	}
	agg := model.SegmentAggregate{
		SegmentFID: 4, Category: "BTXER", Scenario: "BTXER__via_Benzen",
		FluxKgYr: 0.5,
	}
	cmix := []model.CmixResult{
		{
			SegmentAggregate: agg, FlowScenario: "Q95",
			HasFlow: true, FlowM3S: 0.5, CmixUgL: 20,
			HasThreshold: true, ThresholdUgL: 10,
			HasRatio: true, ExceedanceRatio: 2, Exceeds: true,
		},
		// Non-exceeding rows contribute nothing.
		{SegmentAggregate: agg, FlowScenario: "Average", HasFlow: true, CmixUgL: 5},
	}

	out := SiteExceedances(flux, cmix)
	require.Len(t, out, 2)

	for _, e := range out {
		assert.Equal(t, 4, e.SegmentFID)
		assert.Equal(t, "Q95", e.FlowScenario)
		assert.Equal(t, 0.5, e.FlowM3S)
		assert.InDelta(t, 20, e.CmixUgL, 1e-9)
		assert.InDelta(t, 2, e.ExceedanceRatio, 1e-9)
		assert.InDelta(t, 0.5, e.SegmentFluxKgYr, 1e-12)
	}
	// Equal ratios order by contributed flux, largest first.
	assert.Equal(t, "123-00002", out[0].SiteID)
	assert.Equal(t, "123-00001", out[1].SiteID)
}

func TestAquiferExceedances_DeduplicatesFlowScenarios(t *testing.T) {
	base := fluxRow("123-00001", "dkm_3646_ks", 4, "BTXER__via_Benzen", 2e8, 80)

	// The same site flux exceeds under two flow scenarios: the flux sums
	// count it once, the scenario list keeps both.
	site := []model.SiteExceedance{
		{FluxRecord: base, FlowScenario: "Average", CmixUgL: 20, ThresholdUgL: 10, ExceedanceRatio: 2, SegmentFluxKgYr: 0.5},
		{FluxRecord: base, FlowScenario: "Q95", CmixUgL: 80, ThresholdUgL: 10, ExceedanceRatio: 8, SegmentFluxKgYr: 0.5},
	}

	out := AquiferExceedances(site)
	require.Len(t, out, 1)

	a := out[0]
	assert.Equal(t, "dkm_3646_ks", a.AquiferID)
	assert.Equal(t, 4, a.SegmentFID)
	assert.Equal(t, []string{"123-00001"}, a.SiteIDs)
	assert.Equal(t, []string{"Average", "Q95"}, a.FlowScenarios)
	assert.InDelta(t, 0.2, a.SiteFluxKgYr, 1e-12)
	assert.InDelta(t, 0.5, a.SegmentFluxKgYr, 1e-12)
	assert.InDelta(t, 80, a.MaxCmixUgL, 1e-9)
	assert.InDelta(t, 8, a.MaxExceedanceRatio, 1e-9)
}
