// Package rules holds the immutable reference tables driving concentration
// resolution and threshold lookup: the five-level concentration hierarchy,
// the category scenario map, the model-substance set, and the regulatory
// (MKK) threshold tables. Defaults are embedded; a YAML override file can be
// supplied through configuration. A RuleSet is never mutated after loading.
package rules

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// LandfillCategory is the category whose records always carry landfill context.
const LandfillCategory = "LOSSEPLADS"

// landfillOverridePrefix marks substances reclassified upstream into landfill
// context. The asymmetry of that upstream override (it only fires when a
// landfill threshold exists for the original category) is a known policy gap;
// it is preserved here, not corrected.
const landfillOverridePrefix = "Landfill Override:"

// branchActivityPrefix marks substances qualified via branch/activity text.
const branchActivityPrefix = "Branch/Activity:"

// Level identifies which hierarchy level produced a resolution.
type Level int

// Hierarchy levels, in strict precedence order.
const (
	LevelActivitySubstance Level = iota + 1
	LevelLandfillSubstance
	LevelLandfillCategory
	LevelCompound
	LevelCategoryScenario
)

// String returns a stable label for audit output.
func (l Level) String() string {
	switch l {
	case LevelActivitySubstance:
		return "activity_substance"
	case LevelLandfillSubstance:
		return "landfill_substance"
	case LevelLandfillCategory:
		return "landfill_category"
	case LevelCompound:
		return "compound"
	case LevelCategoryScenario:
		return "category_scenario"
	}
	return "unknown"
}

// ErrNoConcentrationRule reports a (category, substance) pair no hierarchy
// level covers. With a correctly populated rule set this cannot happen, so
// callers treat it as a configuration defect and abort.
var ErrNoConcentrationRule = eris.New("rules: no concentration rule matched")

// RuleSet is the loaded, immutable reference table bundle.
type RuleSet struct {
	ActivitySubstance map[string]map[string]float64 `yaml:"activity_substance"`
	LandfillSubstance map[string]float64            `yaml:"landfill_substance"`
	LandfillCategory  map[string]float64            `yaml:"landfill_category"`
	Compound          map[string]float64            `yaml:"compound"`
	CategoryScenario  map[string]map[string]float64 `yaml:"category_scenario"`
	CategoryFallback  map[string]*float64           `yaml:"category_fallback"`
	Scenarios         map[string][]string           `yaml:"scenarios"`
	ModelSubstances   []string                      `yaml:"model_substances"`
	ThresholdSub      map[string]*float64           `yaml:"threshold_substance"`
	ThresholdCat      map[string]float64            `yaml:"threshold_category"`

	modelSet map[string]struct{}
}

// Resolution is the outcome of one hierarchy walk.
type Resolution struct {
	UgL   float64
	Valid bool // false: entry exists but carries no validated concentration
	Level Level
	Key   string // matched table key, for audit output

	// MatchedToken is the industry/activity token that matched at level 1.
	// TiedTokens lists further tokens that also had a rule entry; more than
	// zero means the level-1 match was order-dependent and the caller must
	// surface a diagnostic.
	MatchedToken string
	TiedTokens   []string
}

// Load returns the embedded default rule set.
func Load() (*RuleSet, error) {
	return parse(defaultsYAML)
}

// LoadFile reads a rule set override from a YAML file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	rs, err := parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: parse %s", path)
	}
	return rs, nil
}

func parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, eris.Wrap(err, "rules: unmarshal")
	}
	rs.modelSet = make(map[string]struct{}, len(rs.ModelSubstances))
	for _, s := range rs.ModelSubstances {
		rs.modelSet[s] = struct{}{}
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks hierarchy completeness: every category in the scenario map
// must be resolvable by construction — each model substance of a fanned-out
// category needs a category-scenario or compound entry, and each
// single-scenario category needs a fallback entry.
func (rs *RuleSet) Validate() error {
	for cat, subs := range rs.Scenarios {
		if len(subs) == 0 {
			if _, ok := rs.CategoryFallback[cat]; !ok {
				return eris.Errorf("rules: category %q has no scenarios and no fallback entry", cat)
			}
			continue
		}
		for _, sub := range subs {
			if _, ok := rs.CategoryScenario[cat][sub]; ok {
				continue
			}
			if _, ok := rs.Compound[sub]; ok {
				continue
			}
			return eris.Errorf("rules: scenario %q of category %q has no concentration entry", sub, cat)
		}
	}
	return nil
}

// IsModelSubstance reports whether a substance is one of the reference
// compounds eligible for a substance-specific threshold.
func (rs *RuleSet) IsModelSubstance(substance string) bool {
	_, ok := rs.modelSet[substance]
	return ok
}

// ScenariosFor returns the ordered model substances of a category and
// whether the category appears in the scenario map at all.
func (rs *RuleSet) ScenariosFor(category string) ([]string, bool) {
	subs, ok := rs.Scenarios[category]
	return subs, ok
}

// CleanSubstance strips the upstream override markers from a substance label.
func CleanSubstance(substance string) string {
	substance = strings.TrimSpace(strings.TrimPrefix(substance, landfillOverridePrefix))
	return strings.TrimSpace(strings.TrimPrefix(substance, branchActivityPrefix))
}

// IsLandfillContext reports whether a record resolves under landfill rules:
// either its category is the landfill category or its qualifying substance
// carries the upstream landfill-override marker.
func IsLandfillContext(category, substance string) bool {
	return category == LandfillCategory || strings.Contains(substance, landfillOverridePrefix)
}

// Resolve walks the five-level hierarchy for one scenario. tokens are the
// record's industry/activity free-text tokens in listed order; landfill
// selects levels 2-3; substance is the scenario's model substance, or the
// record's own qualifying substance for single-scenario categories.
//
// Precedence is strict: the first level with a matching entry wins.
func (rs *RuleSet) Resolve(category, substance string, tokens []string, landfill bool) (Resolution, error) {
	substance = CleanSubstance(substance)

	// Level 1: industry/activity token + substance. Ties across tokens
	// resolve to the first listed token; the rest are reported.
	var matched *Resolution
	for _, tok := range tokens {
		conc, ok := rs.ActivitySubstance[tok][substance]
		if !ok {
			continue
		}
		if matched == nil {
			matched = &Resolution{
				UgL:          conc,
				Valid:        true,
				Level:        LevelActivitySubstance,
				Key:          tok + "|" + substance,
				MatchedToken: tok,
			}
			continue
		}
		matched.TiedTokens = append(matched.TiedTokens, tok)
	}
	if matched != nil {
		return *matched, nil
	}

	if landfill {
		// Level 2: landfill + substance.
		if conc, ok := rs.LandfillSubstance[substance]; ok {
			return Resolution{UgL: conc, Valid: true, Level: LevelLandfillSubstance, Key: substance}, nil
		}
		// Level 3: landfill + category.
		if conc, ok := rs.LandfillCategory[category]; ok {
			return Resolution{UgL: conc, Valid: true, Level: LevelLandfillCategory, Key: category}, nil
		}
	}

	// Level 4: specific compound.
	if conc, ok := rs.Compound[substance]; ok {
		return Resolution{UgL: conc, Valid: true, Level: LevelCompound, Key: substance}, nil
	}

	// Level 5: category scenario, then bare category fallback.
	if conc, ok := rs.CategoryScenario[category][substance]; ok {
		return Resolution{
			UgL:   conc,
			Valid: true,
			Level: LevelCategoryScenario,
			Key:   category + "|" + substance,
		}, nil
	}
	if entry, ok := rs.CategoryFallback[category]; ok {
		if entry == nil {
			return Resolution{Valid: false, Level: LevelCategoryScenario, Key: category}, nil
		}
		return Resolution{UgL: *entry, Valid: true, Level: LevelCategoryScenario, Key: category}, nil
	}

	return Resolution{}, eris.Wrapf(ErrNoConcentrationRule, "category %q substance %q", category, substance)
}

// Threshold returns the regulatory threshold for one scenario substance.
// Model substances use their substance-specific entry when present — a
// present-but-null entry means "listed, no EQS" and yields no threshold
// rather than a category fallback. Every other substance uses the category
// threshold only, even when a substance-specific entry exists in the table.
func (rs *RuleSet) Threshold(substance, category string) (float64, bool) {
	substance = CleanSubstance(substance)

	if rs.IsModelSubstance(substance) {
		if entry, ok := rs.ThresholdSub[substance]; ok {
			if entry == nil {
				return 0, false
			}
			return *entry, true
		}
	}

	if v, ok := rs.ThresholdCat[category]; ok {
		return v, true
	}
	return 0, false
}
