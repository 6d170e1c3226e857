package assess

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/model"
	"github.com/miljoportal/tilstand/internal/rules"
)

// scenarioGroup collects the enriched rows of one (site, aquifer, category,
// segment) combination. The rows differ only in qualifying substance and
// free-text industry fields; geometry and infiltration are shared.
type scenarioGroup struct {
	rep        model.EnrichedRecord
	substances []string
	tokens     []string
	landfill   bool
}

type groupKey struct {
	siteID    string
	aquiferID string
	category  string
	fid       int
}

// resolvedScenario is one scenario of a group together with its resolved
// concentration.
type resolvedScenario struct {
	group      *scenarioGroup
	substance  string
	scenario   string
	isModel    bool
	resolution rules.Resolution
}

// Resolver groups enriched records and resolves one concentration per
// scenario through the rule hierarchy.
type Resolver struct {
	Rules *rules.RuleSet
	Log   *zap.Logger
	Audit *Audit
}

// Resolve fans each group out to its category's model substances (or keeps
// the group's first qualifying substance when the category has no scenario
// list) and walks the concentration hierarchy for each. Scenario rows whose
// hierarchy entry carries no validated concentration are excluded with an
// audit entry; a pair no hierarchy level covers aborts the run.
func (r *Resolver) Resolve(records []model.EnrichedRecord) ([]resolvedScenario, error) {
	groups, order := groupRecords(records)

	var out []resolvedScenario
	ties := 0
	tiedTokens := make(map[string]struct{})

	for _, key := range order {
		g := groups[key]

		scenarios, fanned := r.Rules.ScenariosFor(key.category)
		if !fanned || len(scenarios) == 0 {
			scenarios = []string{rules.CleanSubstance(g.substances[0])}
			fanned = false
		}

		for _, sub := range scenarios {
			label := key.category
			if fanned {
				label = key.category + "__via_" + sub
			}

			res, err := r.Rules.Resolve(key.category, sub, g.tokens, g.landfill)
			if err != nil {
				return nil, eris.Wrapf(err, "assess: site %s aquifer %s", key.siteID, key.aquiferID)
			}
			if len(res.TiedTokens) > 0 {
				ties++
				tiedTokens[res.MatchedToken] = struct{}{}
			}
			if !res.Valid {
				r.Audit.Exclude("concentration", ReasonNoValidConcentration, g.rep.QualifyingRecord,
					fmt.Sprintf("scenario %s resolved at %s without a validated concentration", label, res.Level))
				continue
			}

			out = append(out, resolvedScenario{
				group:      g,
				substance:  sub,
				scenario:   label,
				isModel:    r.Rules.IsModelSubstance(sub),
				resolution: res,
			})
		}
	}

	if ties > 0 {
		r.Log.Warn("order-dependent activity matches",
			zap.Int("scenarios", ties),
			zap.Strings("winning_tokens", model.SortedKeys(tiedTokens)),
		)
	}
	return out, nil
}

// groupRecords buckets rows by (site, aquifer, category, segment), keeping
// first-seen order for deterministic output.
func groupRecords(records []model.EnrichedRecord) (map[groupKey]*scenarioGroup, []groupKey) {
	groups := make(map[groupKey]*scenarioGroup)
	var order []groupKey

	for _, rec := range records {
		key := groupKey{
			siteID:    rec.SiteID,
			aquiferID: rec.AquiferID,
			category:  rec.Category,
			fid:       rec.SegmentFID,
		}
		g, ok := groups[key]
		if !ok {
			g = &scenarioGroup{rep: rec}
			groups[key] = g
			order = append(order, key)
		}
		g.substances = append(g.substances, rec.Substance)
		g.tokens = appendTokens(g.tokens, rec.Branch)
		g.tokens = appendTokens(g.tokens, rec.Activity)
		if rules.IsLandfillContext(rec.Category, rec.Substance) {
			g.landfill = true
		}
	}
	return groups, order
}

// appendTokens splits a ';'-separated free-text field into trimmed tokens,
// preserving order and skipping duplicates already present.
func appendTokens(tokens []string, field string) []string {
	for _, tok := range strings.Split(field, ";") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		dup := false
		for _, have := range tokens {
			if have == tok {
				dup = true
				break
			}
		}
		if !dup {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
