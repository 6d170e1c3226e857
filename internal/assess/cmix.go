package assess

import (
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/model"
	"github.com/miljoportal/tilstand/internal/rules"
)

// EvaluateCmix produces one result per (segment aggregate, flow scenario):
// the fully mixed concentration from complete dilution of the yearly flux in
// the scenario flow, compared against the substance or category threshold.
//
// A missing or non-positive flow leaves Cmix and the ratio unset; the
// aggregate still appears so the flux itself is reported. Thresholds attach
// independently of flow.
func EvaluateCmix(aggregates []model.SegmentAggregate, flows *model.FlowTable, rs *rules.RuleSet, log *zap.Logger) []model.CmixResult {
	out := make([]model.CmixResult, 0, len(aggregates)*len(model.FlowScenarios))
	noFlow := make(map[string]struct{})

	for _, agg := range aggregates {
		threshold, hasThreshold := rs.Threshold(agg.Substance, agg.Category)

		for _, scenario := range model.FlowScenarios {
			res := model.CmixResult{
				SegmentAggregate: agg,
				FlowScenario:     scenario,
				ThresholdUgL:     threshold,
				HasThreshold:     hasThreshold,
			}

			flow, ok := flows.Flow(agg.SegmentRef, scenario)
			if ok && flow > 0 {
				res.HasFlow = true
				res.FlowM3S = flow
				res.FluxUgS = agg.FluxUgYr / SecondsPerYear
				res.CmixUgL = res.FluxUgS / (flow * litersPM3)

				if hasThreshold && threshold > 0 {
					res.ExceedanceRatio = res.CmixUgL / threshold
					res.HasRatio = true
					res.Exceeds = res.ExceedanceRatio > 1
				}
			} else {
				noFlow[agg.SegmentRef] = struct{}{}
			}

			out = append(out, res)
		}
	}

	if len(noFlow) > 0 {
		log.Warn("segments without usable flow",
			zap.Int("segments", len(noFlow)),
		)
	}
	return out
}
