package rules

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	rs, err := Load()
	require.NoError(t, err)

	assert.Len(t, rs.ModelSubstances, 16)
	assert.True(t, rs.IsModelSubstance("Benzen"))
	assert.False(t, rs.IsModelSubstance("Toluen"))

	subs, ok := rs.ScenariosFor("KLOREREDE_OPLØSNINGSMIDLER")
	require.True(t, ok)
	assert.Equal(t, []string{"1,1,1-Trichlorethan", "Trichlorethylen", "Chloroform", "Chlorbenzen"}, subs)

	subs, ok = rs.ScenariosFor("LOSSEPLADS")
	require.True(t, ok)
	assert.Empty(t, subs)
}

func TestResolve_PrecedenceOrder(t *testing.T) {
	rs, err := Load()
	require.NoError(t, err)

	// Activity token beats everything, including landfill context.
	res, err := rs.Resolve("BTXER", "Benzen", []string{"Servicestationer"}, true)
	require.NoError(t, err)
	assert.Equal(t, LevelActivitySubstance, res.Level)
	assert.InDelta(t, 8000.0, res.UgL, 1e-9)
	assert.Equal(t, "Servicestationer", res.MatchedToken)

	// Landfill substance beats landfill category and compound.
	res, err = rs.Resolve("BTXER", "Benzen", nil, true)
	require.NoError(t, err)
	assert.Equal(t, LevelLandfillSubstance, res.Level)
	assert.InDelta(t, 17.0, res.UgL, 1e-9)

	// Landfill category when the substance has no landfill entry.
	res, err = rs.Resolve("PESTICIDER", "Atrazin", nil, true)
	require.NoError(t, err)
	assert.Equal(t, LevelLandfillCategory, res.Level)
	assert.InDelta(t, 1000.0, res.UgL, 1e-9)

	// Compound outside landfill context.
	res, err = rs.Resolve("BTXER", "Benzen", nil, false)
	require.NoError(t, err)
	assert.Equal(t, LevelCompound, res.Level)
	assert.InDelta(t, 400.0, res.UgL, 1e-9)
}

func TestResolve_TokenOrderTies(t *testing.T) {
	rs, err := Load()
	require.NoError(t, err)

	res, err := rs.Resolve("BTXER", "Benzen",
		[]string{"Servicestationer", "Benzin og olie, salg af"}, false)
	require.NoError(t, err)
	assert.Equal(t, "Servicestationer", res.MatchedToken)
	assert.Equal(t, []string{"Benzin og olie, salg af"}, res.TiedTokens)
}

func TestResolve_NullFallbackIsInvalid(t *testing.T) {
	rs, err := Load()
	require.NoError(t, err)

	res, err := rs.Resolve("PFAS", "PFOS", nil, false)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, LevelCategoryScenario, res.Level)
}

func TestResolve_UnknownPairIsError(t *testing.T) {
	rs, err := Load()
	require.NoError(t, err)

	_, err = rs.Resolve("UKENDT_KATEGORI", "Ukendt stof", nil, false)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoConcentrationRule))
}

func TestResolve_StripsOverridePrefixes(t *testing.T) {
	rs, err := Load()
	require.NoError(t, err)

	res, err := rs.Resolve("BTXER", "Landfill Override: Benzen", nil, false)
	require.NoError(t, err)
	assert.Equal(t, LevelCompound, res.Level)
	assert.InDelta(t, 400.0, res.UgL, 1e-9)
}

func TestThreshold_ModelSubstance(t *testing.T) {
	rs, err := Load()
	require.NoError(t, err)

	v, ok := rs.Threshold("Benzen", "BTXER")
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)
}

func TestThreshold_ListedWithoutEQS(t *testing.T) {
	rs, err := Load()
	require.NoError(t, err)

	// Listed with a null entry: no threshold, and no category fallback.
	_, ok := rs.Threshold("Olie C10-C25", "BTXER")
	assert.False(t, ok)

	_, ok = rs.Threshold("Chlorbenzen", "KLOREREDE_OPLØSNINGSMIDLER")
	assert.False(t, ok)
}

func TestThreshold_NonModelUsesCategory(t *testing.T) {
	rs, err := Load()
	require.NoError(t, err)

	v, ok := rs.Threshold("Toluen", "BTXER")
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)

	_, ok = rs.Threshold("Toluen", "UKENDT_KATEGORI")
	assert.False(t, ok)
}

func TestIsLandfillContext(t *testing.T) {
	assert.True(t, IsLandfillContext(LandfillCategory, "Benzen"))
	assert.True(t, IsLandfillContext("BTXER", "Landfill Override: Benzen"))
	assert.False(t, IsLandfillContext("BTXER", "Benzen"))
}

func TestValidate_MissingScenarioEntry(t *testing.T) {
	rs := &RuleSet{
		Scenarios: map[string][]string{"X": {"Ukendt"}},
	}
	err := rs.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ukendt")
}
