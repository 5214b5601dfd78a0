// Package config holds the settings of one classwiz run.
//
// Values come from command-line flags, CLASSWIZ_* environment variables and
// an optional YAML file, in that order of precedence, over the defaults
// below. Keys are the flag names, so a file written by Save can be passed
// back with --config.
//
// Example usage:
//
//	fs := pflag.NewFlagSet("classwiz", pflag.ContinueOnError)
//	config.RegisterFlags(fs)
//	_ = fs.Parse(os.Args[1:])
//	cfg, err := config.Load(viper.New(), fs)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"math"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/classwiz/pkg/errors"
)

// Flag and configuration keys.
const (
	KeyFolder      = "f"
	KeyRoot        = "root"
	KeyOutput      = "o"
	KeyFilter      = "filt"
	KeySigmaFactor = "sigmafac"
	KeyMic         = "mic"
	KeyPlot        = "plot"
	KeyReference   = "ref"
	KeyLogLevel    = "log-level"
	KeyLogFormat   = "log-format"
	KeyMetricsFile = "metrics-file"
	KeyTraceFile   = "trace-file"
	KeySummary     = "summary"
	KeyConfigFile  = "config"
)

// EnvPrefix prefixes environment overrides, e.g. CLASSWIZ_LOG_LEVEL.
const EnvPrefix = "CLASSWIZ"

// PlotBar is the only supported plot style.
const PlotBar = "bar"

// AutoReference lets the run pick its reference iteration.
const AutoReference = -1

// Config is the effective configuration of a run.
type Config struct {
	Folder    string `yaml:"f" json:"f"`
	Root      string `yaml:"root" json:"root"`
	Output    string `yaml:"o" json:"o"`
	Filter    bool   `yaml:"filt" json:"filt"`
	Plot      string `yaml:"plot" json:"plot"`
	LogLevel  string `yaml:"log-level" json:"log-level"`
	LogFormat string `yaml:"log-format" json:"log-format"`

	SigmaFactor float64 `yaml:"sigmafac" json:"sigmafac"`

	// SigmaFactorSet is true when the operator chose the sigma factor.
	SigmaFactorSet bool `yaml:"-" json:"-"`

	// MaxResolution is the --mic cutoff; nil disables it.
	MaxResolution *float64 `yaml:"mic,omitempty" json:"mic,omitempty"`

	// Reference is the reference iteration, AutoReference to pick one.
	Reference int `yaml:"ref" json:"ref"`

	MetricsFile string `yaml:"metrics-file,omitempty" json:"metrics-file,omitempty"`
	TraceFile   string `yaml:"trace-file,omitempty" json:"trace-file,omitempty"`
	Summary     string `yaml:"summary,omitempty" json:"summary,omitempty"`

	ConfigFile string `yaml:"-" json:"-"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Folder:      ".",
		Root:        "run",
		Output:      "output.pdf",
		Plot:        PlotBar,
		LogLevel:    "info",
		LogFormat:   "console",
		SigmaFactor: 1,
		Reference:   AutoReference,
	}
}

// RegisterFlags adds the classwiz flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(KeyFolder, d.Folder, "Folder holding the classification output")
	fs.String(KeyRoot, d.Root, "Root name of the run")
	fs.String(KeyOutput, d.Output, "Report file name")
	fs.String(KeyFilter, "false", "Write a filtered STAR file without class-changing particles (true/false)")
	fs.Float64(KeySigmaFactor, d.SigmaFactor, "Jump-score cutoff in standard deviations above the mean")
	fs.String(KeyMic, "", "Exclude particles whose CTF max resolution exceeds this value")
	fs.String(KeyPlot, d.Plot, "Plot style (bar)")
	fs.Int(KeyReference, d.Reference, "Iteration used as reference, -1 picks the first readable one")
	fs.String(KeyLogLevel, d.LogLevel, "Log level (debug, info, warn, error)")
	fs.String(KeyLogFormat, d.LogFormat, "Log format (console, json)")
	fs.String(KeyMetricsFile, "", "Write Prometheus metrics to this textfile")
	fs.String(KeyTraceFile, "", "Write OpenTelemetry spans to this file")
	fs.String(KeySummary, "", "Write a run summary (.yaml, .yml or .json)")
	fs.String(KeyConfigFile, "", "YAML configuration file")
}

// Load resolves the configuration from flags, environment and the file
// named by --config.
func Load(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	d := Default()
	v.SetDefault(KeyFolder, d.Folder)
	v.SetDefault(KeyRoot, d.Root)
	v.SetDefault(KeyOutput, d.Output)
	v.SetDefault(KeyFilter, "false")
	v.SetDefault(KeySigmaFactor, d.SigmaFactor)
	v.SetDefault(KeyPlot, d.Plot)
	v.SetDefault(KeyReference, d.Reference)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind flags")
		}
	}

	cfg := &Config{ConfigFile: v.GetString(KeyConfigFile)}
	if cfg.ConfigFile != "" {
		if err := readFile(v, cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	cfg.Folder = v.GetString(KeyFolder)
	cfg.Root = v.GetString(KeyRoot)
	cfg.Output = v.GetString(KeyOutput)
	cfg.Plot = v.GetString(KeyPlot)
	cfg.LogLevel = v.GetString(KeyLogLevel)
	cfg.LogFormat = v.GetString(KeyLogFormat)
	cfg.SigmaFactor = v.GetFloat64(KeySigmaFactor)
	cfg.SigmaFactorSet = isExplicit(v, fs, KeySigmaFactor)
	cfg.Reference = v.GetInt(KeyReference)
	cfg.MetricsFile = v.GetString(KeyMetricsFile)
	cfg.TraceFile = v.GetString(KeyTraceFile)
	cfg.Summary = v.GetString(KeySummary)

	filter, err := strconv.ParseBool(v.GetString(KeyFilter))
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "--%s expects true or false, got %q", KeyFilter, v.GetString(KeyFilter))
	}
	cfg.Filter = filter

	if mic := strings.TrimSpace(v.GetString(KeyMic)); mic != "" {
		value, err := strconv.ParseFloat(mic, 64)
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeConfig, "--%s expects a number, got %q", KeyMic, mic)
		}
		cfg.MaxResolution = &value
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// isExplicit reports whether key was set by a changed flag, the
// environment or the config file rather than by its default.
func isExplicit(v *viper.Viper, fs *pflag.FlagSet, key string) bool {
	if fs != nil {
		if f := fs.Lookup(key); f != nil && f.Changed {
			return true
		}
	}
	if v.InConfig(key) {
		return true
	}
	_, ok := lookupEnv(key)
	return ok
}

// Validate checks the configuration for values the run cannot use.
func (c *Config) Validate() error {
	if c.Folder == "" {
		return errors.New(errors.ErrorTypeConfig, "input folder is required")
	}
	if c.Root == "" {
		return errors.New(errors.ErrorTypeConfig, "root name is required")
	}
	if c.Output == "" {
		return errors.New(errors.ErrorTypeConfig, "report file name is required")
	}
	if c.Plot != PlotBar {
		return errors.Newf(errors.ErrorTypeConfig, "unsupported plot style %q, only %q is available", c.Plot, PlotBar).
			WithDetail("plot", c.Plot)
	}
	if math.IsNaN(c.SigmaFactor) || math.IsInf(c.SigmaFactor, 0) {
		return errors.Newf(errors.ErrorTypeConfig, "sigma factor must be finite, got %v", c.SigmaFactor)
	}
	if c.MaxResolution != nil && (math.IsNaN(*c.MaxResolution) || math.IsInf(*c.MaxResolution, 0)) {
		return errors.Newf(errors.ErrorTypeConfig, "resolution cutoff must be finite, got %v", *c.MaxResolution)
	}
	if c.Reference < AutoReference {
		return errors.Newf(errors.ErrorTypeConfig, "reference iteration must be %d or a non-negative index, got %d",
			AutoReference, c.Reference)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unsupported log format %q", c.LogFormat)
	}
	return nil
}

// FilterEnabled reports whether a filtered file is written.
func (c *Config) FilterEnabled() bool {
	return c.Filter || c.MaxResolution != nil
}
