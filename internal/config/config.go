package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard subdirectories under the data directory.
const (
	RastersDirName     = "nhdplus_rasters"
	VectorsDirName     = "nhdplus_vectors"
	WBDDirName         = "wbd"
	HUCListsDirName    = "huc_lists"
	HydrofabricDirName = "nwm_hydrofabric"
)

// Config holds the full application configuration.
type Config struct {
	DataDir     string            `yaml:"data_dir" mapstructure:"data_dir"`
	Projection  string            `yaml:"projection" mapstructure:"projection"`
	Workers     int               `yaml:"workers" mapstructure:"workers"`
	Sources     SourcesConfig     `yaml:"sources" mapstructure:"sources"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Tools       ToolsConfig       `yaml:"tools" mapstructure:"tools"`
	Domain      DomainConfig      `yaml:"domain" mapstructure:"domain"`
	Hydrofabric HydrofabricConfig `yaml:"hydrofabric" mapstructure:"hydrofabric"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	RunLog      RunLogConfig      `yaml:"runlog" mapstructure:"runlog"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// SourcesConfig holds remote dataset locations. NHD templates take the HUC4
// as their single %s verb.
type SourcesConfig struct {
	WBDNationalURL       string `yaml:"wbd_national_url" mapstructure:"wbd_national_url"`
	NHDRasterURLTemplate string `yaml:"nhd_raster_url_template" mapstructure:"nhd_raster_url_template"`
	NHDVectorURLTemplate string `yaml:"nhd_vector_url_template" mapstructure:"nhd_vector_url_template"`
}

// FetchConfig configures remote downloads.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// ToolsConfig names the external binaries used for extraction and conversion.
type ToolsConfig struct {
	SevenZipPath string `yaml:"sevenzip_path" mapstructure:"sevenzip_path"`
	OGR2OGRPath  string `yaml:"ogr2ogr_path" mapstructure:"ogr2ogr_path"`
	NativeZip    bool   `yaml:"native_zip" mapstructure:"native_zip"`
	OGRMakeValid bool   `yaml:"ogr_make_valid" mapstructure:"ogr_make_valid"`
}

// DomainConfig locates the vector dataset that defines the modeled domain.
// File is relative to the hydrofabric directory unless absolute.
type DomainConfig struct {
	File  string `yaml:"file" mapstructure:"file"`
	Layer string `yaml:"layer" mapstructure:"layer"`
}

// HydrofabricConfig configures NWM hydrofabric projection.
type HydrofabricConfig struct {
	Source string   `yaml:"source" mapstructure:"source"`
	Layers []string `yaml:"layers" mapstructure:"layers"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// RunLogConfig configures the SQLite run log. Empty path means
// <data_dir>/acquire_runs.db.
type RunLogConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	Disabled bool   `yaml:"disabled" mapstructure:"disabled"`
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
	v.SetEnvPrefix("FIMPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// inputDataDir is the variable the existing container images export.
	if err := v.BindEnv("data_dir", "FIMPREP_DATA_DIR", "inputDataDir"); err != nil {
		return nil, eris.Wrap(err, "config: bind data_dir env")
	}

	// Defaults
	v.SetDefault("projection", "EPSG:5070")
	v.SetDefault("workers", 1)
	v.SetDefault("sources.wbd_national_url", "https://prd-tnm.s3.amazonaws.com/StagedProducts/Hydrography/WBD/National/GDB/WBD_National_GDB.zip")
	v.SetDefault("sources.nhd_raster_url_template", "https://prd-tnm.s3.amazonaws.com/StagedProducts/Hydrography/NHDPlusHR/Beta/GDB/NHDPLUS_H_%s_HU4_RASTER.7z")
	v.SetDefault("sources.nhd_vector_url_template", "https://prd-tnm.s3.amazonaws.com/StagedProducts/Hydrography/NHDPlusHR/Beta/GDB/NHDPLUS_H_%s_HU4_GDB.zip")
	v.SetDefault("fetch.user_agent", "fim-prep/1.0")
	v.SetDefault("fetch.timeout_secs", 0)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("tools.sevenzip_path", "7za")
	v.SetDefault("tools.ogr2ogr_path", "ogr2ogr")
	v.SetDefault("tools.native_zip", false)
	v.SetDefault("tools.ogr_make_valid", true)
	v.SetDefault("domain.file", "nwm_flows.gpkg")
	v.SetDefault("hydrofabric.layers", []string{"nwm_flows", "nwm_lakes", "nwm_catchments"})
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

// Validate checks the fields every data command needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return eris.New("config: data_dir is required (set FIMPREP_DATA_DIR or inputDataDir)")
	}
	if c.Projection == "" {
		return eris.New("config: projection is required")
	}
	if c.Workers < 1 {
		return eris.Errorf("config: workers must be >= 1, got %d", c.Workers)
	}
	for name, tmpl := range map[string]string{
		"sources.nhd_raster_url_template": c.Sources.NHDRasterURLTemplate,
		"sources.nhd_vector_url_template": c.Sources.NHDVectorURLTemplate,
	} {
		if strings.Count(tmpl, "%s") != 1 {
			return eris.Errorf("config: %s must contain exactly one %%s", name)
		}
	}
	return nil
}

// RastersDir returns the NHDPlus raster staging directory.
func (c *Config) RastersDir() string { return filepath.Join(c.DataDir, RastersDirName) }

// VectorsDir returns the NHDPlus vector staging directory.
func (c *Config) VectorsDir() string { return filepath.Join(c.DataDir, VectorsDirName) }

// WBDDir returns the watershed boundary directory.
func (c *Config) WBDDir() string { return filepath.Join(c.DataDir, WBDDirName) }

// HUCListsDir returns the directory holding included_huc*.lst.
func (c *Config) HUCListsDir() string { return filepath.Join(c.DataDir, HUCListsDirName) }

// HydrofabricDir returns the NWM hydrofabric directory.
func (c *Config) HydrofabricDir() string { return filepath.Join(c.DataDir, HydrofabricDirName) }

// DomainPath resolves the domain reference file.
func (c *Config) DomainPath() string {
	if filepath.IsAbs(c.Domain.File) {
		return c.Domain.File
	}
	return filepath.Join(c.HydrofabricDir(), c.Domain.File)
}

// RunLogPath resolves the run log database path.
func (c *Config) RunLogPath() string {
	if c.RunLog.Path != "" {
		return c.RunLog.Path
	}
	return filepath.Join(c.DataDir, "acquire_runs.db")
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
