package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chtemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found.
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Lokalitet_", cfg.Inputs.SiteIDField)
	assert.Equal(t, "Shape_Leng", cfg.Inputs.LengthField)
	assert.Equal(t, "dkm", cfg.Infiltration.DefaultRegion)
	assert.Equal(t, 750.0, cfg.Infiltration.CapMMYr)
	assert.Equal(t, "ov_id", cfg.Flow.RefColumn)
	assert.Equal(t, map[string]string{
		"Average": "Vandfoer",
		"Q90":     "Q90",
		"Q95":     "Q95",
	}, cfg.Flow.Scenarios)
	assert.Equal(t, "results", cfg.Output.Dir)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "tilstand.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yaml := `
inputs:
  records: data/qualifying.csv
  sites: data/sites.shp
infiltration:
  raster_dir: /data/gvd
  cap_mm_yr: 600
flow:
  path: data/qpoints.shp
store:
  driver: postgres
  database_url: postgres://localhost/tilstand
  pool:
    max_conns: 8
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/qualifying.csv", cfg.Inputs.Records)
	assert.Equal(t, "data/sites.shp", cfg.Inputs.Sites)
	assert.Equal(t, "/data/gvd", cfg.Infiltration.RasterDir)
	assert.Equal(t, 600.0, cfg.Infiltration.CapMMYr)
	assert.Equal(t, "data/qpoints.shp", cfg.Flow.Path)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/tilstand", cfg.Store.DatabaseURL)
	require.NotNil(t, cfg.Store.Pool)
	assert.Equal(t, int32(8), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset keys keep their defaults.
	assert.Equal(t, "dkm", cfg.Infiltration.DefaultRegion)
	assert.Equal(t, "results", cfg.Output.Dir)
}

func TestLoadFromEnv(t *testing.T) {
	chtemp(t)
	t.Setenv("TILSTAND_STORE_DRIVER", "postgres")
	t.Setenv("TILSTAND_OUTPUT_DIR", "/tmp/out")
	t.Setenv("TILSTAND_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "/tmp/out", cfg.Output.Dir)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "verbose", Format: "json"})
	require.Error(t, err)

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
