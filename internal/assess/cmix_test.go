package assess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/model"
	"github.com/miljoportal/tilstand/internal/rules"
)

func cmixAggregate(substance, scenario string, ugYr float64) model.SegmentAggregate {
	return model.SegmentAggregate{
		SegmentFID: 4,
		SegmentRef: "riv_0004",
		Category:   "BTXER",
		Substance:  substance,
		Scenario:   scenario,
		IsModel:    true,
		FluxUgYr:   ugYr,
		FluxKgYr:   ugYr / ugPerKg,
	}
}

func TestEvaluateCmix_DilutionAndThreshold(t *testing.T) {
	rs, err := rules.Load()
	require.NoError(t, err)

	flows := model.NewFlowTable()
	flows.Record("riv_0004", "Average", 2.0)
	flows.Record("riv_0004", "Q95", 0.5)

	// Flux chosen so FluxUgS is exactly 40000: Cmix at 2 m3/s is
	// 40000 / (2 x 1000) = 20 ug/L, twice the Benzen threshold of 10.
	agg := cmixAggregate("Benzen", "BTXER__via_Benzen", 40000*SecondsPerYear)

	out := EvaluateCmix([]model.SegmentAggregate{agg}, flows, rs, zap.NewNop())
	require.Len(t, out, len(model.FlowScenarios))

	byScenario := make(map[string]model.CmixResult, len(out))
	for _, res := range out {
		byScenario[res.FlowScenario] = res
	}

	avg := byScenario["Average"]
	require.True(t, avg.HasFlow)
	assert.Equal(t, 2.0, avg.FlowM3S)
	assert.InDelta(t, 40000, avg.FluxUgS, 1e-6)
	assert.InDelta(t, 20, avg.CmixUgL, 1e-9)
	require.True(t, avg.HasThreshold)
	assert.Equal(t, 10.0, avg.ThresholdUgL)
	require.True(t, avg.HasRatio)
	assert.InDelta(t, 2.0, avg.ExceedanceRatio, 1e-9)
	assert.True(t, avg.Exceeds)

	// Lower flow, higher Cmix.
	q95 := byScenario["Q95"]
	require.True(t, q95.HasFlow)
	assert.InDelta(t, 80, q95.CmixUgL, 1e-9)

	// No Q90 observation: the row still appears, Cmix unset.
	q90 := byScenario["Q90"]
	assert.False(t, q90.HasFlow)
	assert.False(t, q90.HasRatio)
	assert.False(t, q90.Exceeds)
	assert.Zero(t, q90.CmixUgL)
	assert.True(t, q90.HasThreshold)
}

func TestEvaluateCmix_ZeroFlowIsUnusable(t *testing.T) {
	rs, err := rules.Load()
	require.NoError(t, err)

	flows := model.NewFlowTable()
	flows.Record("riv_0004", "Average", 0)

	out := EvaluateCmix([]model.SegmentAggregate{
		cmixAggregate("Benzen", "BTXER__via_Benzen", 1e9),
	}, flows, rs, zap.NewNop())

	for _, res := range out {
		assert.False(t, res.HasFlow, res.FlowScenario)
		assert.False(t, res.Exceeds, res.FlowScenario)
	}
}

func TestEvaluateCmix_ListedSubstanceWithoutEQS(t *testing.T) {
	rs, err := rules.Load()
	require.NoError(t, err)

	flows := model.NewFlowTable()
	flows.Record("riv_0004", "Average", 2.0)

	// Olie C10-C25 is a model substance listed without a threshold: Cmix is
	// still computed, the ratio is not.
	out := EvaluateCmix([]model.SegmentAggregate{
		cmixAggregate("Olie C10-C25", "BTXER__via_Olie C10-C25", 40000*SecondsPerYear),
	}, flows, rs, zap.NewNop())

	for _, res := range out {
		assert.False(t, res.HasThreshold)
		assert.False(t, res.HasRatio)
		assert.False(t, res.Exceeds)
		if res.FlowScenario == "Average" {
			require.True(t, res.HasFlow)
			assert.InDelta(t, 20, res.CmixUgL, 1e-9)
		}
	}
}

func TestEvaluateCmix_RatioAtExactlyOneDoesNotExceed(t *testing.T) {
	rs, err := rules.Load()
	require.NoError(t, err)

	flows := model.NewFlowTable()
	flows.Record("riv_0004", "Average", 2.0)

	// Cmix exactly at the threshold: 20000 ug/s / 2000 L/s = 10 ug/L.
	out := EvaluateCmix([]model.SegmentAggregate{
		cmixAggregate("Benzen", "BTXER__via_Benzen", 20000*SecondsPerYear),
	}, flows, rs, zap.NewNop())

	for _, res := range out {
		if res.FlowScenario != "Average" {
			continue
		}
		require.True(t, res.HasRatio)
		assert.InDelta(t, 1.0, res.ExceedanceRatio, 1e-9)
		assert.False(t, res.Exceeds)
	}
}
