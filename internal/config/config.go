package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Inputs       InputsConfig       `yaml:"inputs" mapstructure:"inputs"`
	Infiltration InfiltrationConfig `yaml:"infiltration" mapstructure:"infiltration"`
	Flow         FlowConfig         `yaml:"flow" mapstructure:"flow"`
	Rules        RulesConfig        `yaml:"rules" mapstructure:"rules"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// InputsConfig points at the input datasets of a run.
type InputsConfig struct {
	Records      string `yaml:"records" mapstructure:"records"`
	Sites        string `yaml:"sites" mapstructure:"sites"`
	SiteIDField  string `yaml:"site_id_field" mapstructure:"site_id_field"`
	Rivers       string `yaml:"rivers" mapstructure:"rivers"`
	LengthField  string `yaml:"length_field" mapstructure:"length_field"`
	LayerMapping string `yaml:"layer_mapping" mapstructure:"layer_mapping"`
}

// InfiltrationConfig configures the groundwater recharge grids.
type InfiltrationConfig struct {
	RasterDir     string  `yaml:"raster_dir" mapstructure:"raster_dir"`
	DefaultRegion string  `yaml:"default_region" mapstructure:"default_region"`
	CapMMYr       float64 `yaml:"cap_mm_yr" mapstructure:"cap_mm_yr"`
}

// FlowConfig configures the river discharge dataset. Scenarios maps flow
// scenario name to the attribute column carrying it. Path may be a Q-point
// shapefile or a spreadsheet export.
type FlowConfig struct {
	Path      string            `yaml:"path" mapstructure:"path"`
	RefColumn string            `yaml:"ref_column" mapstructure:"ref_column"`
	Scenarios map[string]string `yaml:"scenarios" mapstructure:"scenarios"`
}

// RulesConfig optionally overrides the embedded reference tables.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// OutputConfig configures result export.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	Pool        *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional postgres pool tuning.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TILSTAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("inputs.site_id_field", "Lokalitet_")
	v.SetDefault("inputs.length_field", "Shape_Leng")
	v.SetDefault("infiltration.default_region", "dkm")
	v.SetDefault("infiltration.cap_mm_yr", 750)
	v.SetDefault("flow.ref_column", "ov_id")
	v.SetDefault("flow.scenarios", map[string]string{
		"Average": "Vandfoer",
		"Q90":     "Q90",
		"Q95":     "Q95",
	})
	v.SetDefault("output.dir", "results")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "tilstand.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
