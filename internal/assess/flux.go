package assess

import "github.com/miljoportal/tilstand/internal/model"

// Unit constants for the flux chain.
const (
	// SecondsPerYear uses the Julian year, matching the flow statistics.
	SecondsPerYear = 365.25 * 86400

	mmPerM    = 1000.0
	litersPM3 = 1000.0

	ugPerMg = 1e3
	ugPerG  = 1e6
	ugPerKg = 1e9
)

// CalculateFlux turns each resolved scenario into a flux record in four unit
// scales. One record per (site, aquifer, category, segment, scenario).
func CalculateFlux(scenarios []resolvedScenario) []model.FluxRecord {
	out := make([]model.FluxRecord, 0, len(scenarios))
	for _, sc := range scenarios {
		rep := sc.group.rep
		ugYr := fluxUgPerYear(rep.AreaM2, rep.InfiltrationMMYr, sc.resolution.UgL)

		out = append(out, model.FluxRecord{
			SiteID:    rep.SiteID,
			SiteName:  rep.SiteName,
			AquiferID: rep.AquiferID,
			Category:  rep.Category,
			Substance: sc.substance,
			Scenario:  sc.scenario,
			IsModel:   sc.isModel,
			DistanceM: rep.DistanceM,

			SegmentFID:     rep.SegmentFID,
			SegmentRef:     rep.SegmentRef,
			SegmentName:    rep.SegmentName,
			SegmentLengthM: rep.SegmentLengthM,
			SegmentAquifer: rep.SegmentAquifer,
			SegmentCount:   rep.SegmentCount,

			AreaM2:           rep.AreaM2,
			InfiltrationMMYr: rep.InfiltrationMMYr,
			ConcentrationUgL: sc.resolution.UgL,

			FluxUgYr: ugYr,
			FluxMgYr: ugYr / ugPerMg,
			FluxGYr:  ugYr / ugPerG,
			FluxKgYr: ugYr / ugPerKg,
		})
	}
	return out
}

// fluxUgPerYear is the core mass-flux chain:
//
//	m2 x (mm/yr / 1000) = m3 water per year
//	m3/yr x (ug/L x 1000 L/m3) = ug/yr
func fluxUgPerYear(areaM2, infiltrationMMYr, concentrationUgL float64) float64 {
	volumeM3Yr := areaM2 * infiltrationMMYr / mmPerM
	return volumeM3Yr * concentrationUgL * litersPM3
}
