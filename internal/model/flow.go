package model

import "math"

// FlowScenarios is the canonical evaluation order of the named discharge
// scenarios. Loaders may carry more; these three are the minimum contract.
var FlowScenarios = []string{"Average", "Q90", "Q95"}

// FlowTable holds river discharge per (segment ref, flow scenario), reduced
// to the maximum observed flow per segment per scenario. Multiple discharge
// points on one segment therefore collapse to the downstream-most
// (conservative) value.
type FlowTable struct {
	flows map[string]map[string]float64
}

// NewFlowTable creates an empty flow table.
func NewFlowTable() *FlowTable {
	return &FlowTable{flows: make(map[string]map[string]float64)}
}

// Record registers one observation, keeping the maximum per key. NaN values
// are dropped.
func (t *FlowTable) Record(segmentRef, scenario string, flow float64) {
	if math.IsNaN(flow) {
		return
	}
	m, ok := t.flows[segmentRef]
	if !ok {
		m = make(map[string]float64)
		t.flows[segmentRef] = m
	}
	if prev, ok := m[scenario]; !ok || flow > prev {
		m[scenario] = flow
	}
}

// Flow returns the reduced flow for one (segment, scenario) pair.
func (t *FlowTable) Flow(segmentRef, scenario string) (float64, bool) {
	v, ok := t.flows[segmentRef][scenario]
	return v, ok
}

// Segments returns the number of segments with any flow data.
func (t *FlowTable) Segments() int { return len(t.flows) }
