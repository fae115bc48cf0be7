package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/twpayne/go-demmosaic"
)

// config is the command's configuration.
type config struct {
	DownloadDir     string        `mapstructure:"download_dir"`
	WorkDir         string        `mapstructure:"work_dir"`
	IntermediateDir string        `mapstructure:"intermediate_dir"`
	OutputDir       string        `mapstructure:"output_dir"`
	DestinationDir  string        `mapstructure:"destination_dir"`
	CropCRS         string        `mapstructure:"crop_crs"`
	TargetCRS       string        `mapstructure:"target_crs"`
	CatalogURL      string        `mapstructure:"catalog_url"`
	Dataset         string        `mapstructure:"dataset"`
	Concurrency     int           `mapstructure:"concurrency"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MergeCommand    string        `mapstructure:"merge_command"`
	WarpCommand     string        `mapstructure:"warp_command"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	MetricsTextfile string        `mapstructure:"metrics_textfile"`
}

// newFlagSet returns the command's flags. Flag names use dashes where config
// keys use underscores.
func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("demmosaic", pflag.ContinueOnError)
	flags.String("download-dir", "downloads", "directory for downloaded tiles, emptied after every run")
	flags.String("work-dir", ".", "directory for the merged mosaic")
	flags.String("intermediate-dir", "intermediate", "directory for intermediate rasters when reprojecting, emptied after every run")
	flags.String("output-dir", "cropped", "directory for the final raster")
	flags.String("destination-dir", "", "existing directory to move the final raster to")
	flags.String("crop-crs", "", "CRS of the crop extent (default: UTM zone of the region)")
	flags.String("target-crs", "", "CRS to reproject the cropped raster to (default: no reprojection)")
	flags.String("catalog-url", "", "tile catalog products endpoint")
	flags.String("dataset", "", "tile catalog dataset")
	flags.Int("concurrency", 4, "maximum concurrent downloads")
	flags.Duration("timeout", 0, "abort the run after this duration (0 means no timeout)")
	flags.String("merge-command", "gdal_merge.py", "raster merge command")
	flags.String("warp-command", "gdalwarp", "raster warp command")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("metrics-textfile", "", "write Prometheus metrics to this file after the run")
	flags.String("config", "", "config file")
	return flags
}

// loadConfig reads configuration from, in decreasing order of precedence,
// flags, DEMMOSAIC_ environment variables, an optional config file, and
// flag defaults.
func loadConfig(flags *pflag.FlagSet) (*config, error) {
	v := viper.New()

	var bindErr error
	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Name == "config" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(flag.Name, "-", "_"), flag); err != nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	if configFile, _ := flags.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("demmosaic")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // OK if missing
	}

	// DEMMOSAIC_OUTPUT_DIR sets output_dir, and so on.
	v.SetEnvPrefix("DEMMOSAIC")
	v.AutomaticEnv()

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *config) validate() error {
	var errs []string
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Sprintf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("unknown log format %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: config validation failed:\n  - %s", demmosaic.ErrInvalidInput, strings.Join(errs, "\n  - "))
	}
	return nil
}

// newLogger returns a logger writing to stderr at level in format.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
