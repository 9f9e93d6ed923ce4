package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyospec/pkg/engine"
	"github.com/openfroyo/froyospec/pkg/telemetry"
)

// Supported formats.
const (
	FormatCUE  = "cue"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// FormatFromPath returns the configuration format implied by a file extension.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", engine.NewConfigurationError(
			fmt.Sprintf("unsupported configuration file extension %q", filepath.Ext(path)), nil).
			WithDetail("path", path)
	}
}

// Load reads, decodes and validates a configuration file. Relative paths in
// the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read configuration", err).
			WithDetail("path", path)
	}

	cfg, err := parse(data, format, path)
	if err != nil {
		return nil, err
	}

	cfg.Source = path
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes and validates configuration data in the given format.
func Parse(data []byte, format string) (*Config, error) {
	return parse(data, format, "inline."+format)
}

func parse(data []byte, format, filename string) (*Config, error) {
	cfg := &Config{}

	switch format {
	case FormatCUE:
		loader, err := newCUELoader()
		if err != nil {
			return nil, engine.NewConfigurationError("failed to initialize CUE", err)
		}
		if errs := loader.decode(data, filename, cfg); len(errs) > 0 {
			return nil, validationFailure(filename, errs)
		}
	case FormatYAML, FormatJSON:
		// JSON is a subset of YAML.
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, engine.NewConfigurationError("failed to decode configuration", err).
				WithDetail("path", filename)
		}
	default:
		return nil, engine.NewConfigurationError(fmt.Sprintf("unsupported configuration format %q", format), nil)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validationFailure(filename string, errs []ValidationError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Line > 0 {
			msgs = append(msgs, fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message))
		} else {
			msgs = append(msgs, e.Message)
		}
	}
	return engine.NewConfigurationError("invalid configuration: "+strings.Join(msgs, "; "), nil).
		WithDetail("path", filename).
		WithDetail("errors", errs)
}

func (c *Config) applyDefaults() {
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheMemory
	}
	if c.Telemetry == nil {
		c.Telemetry = telemetry.DefaultConfig()
	}
	defaults := telemetry.DefaultConfig()
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaults.ServiceName
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = defaults.ServiceVersion
	}
	if c.Telemetry.Logging.Level == "" {
		c.Telemetry.Logging.Level = defaults.Logging.Level
	}
	if c.Telemetry.Logging.Format == "" {
		c.Telemetry.Logging.Format = defaults.Logging.Format
	}
	if c.Telemetry.Metrics.Namespace == "" {
		c.Telemetry.Metrics.Namespace = defaults.Metrics.Namespace
	}
}

// resolvePaths makes relative file references absolute against base.
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || p == os.DevNull {
			return p
		}
		return filepath.Join(base, p)
	}

	for i, f := range c.FactsFiles {
		c.FactsFiles[i] = abs(f)
	}
	c.FactScriptFile = abs(c.FactScriptFile)
	c.Compiler.Module = abs(c.Compiler.Module)
	if c.Cache.Path != ":memory:" {
		c.Cache.Path = abs(c.Cache.Path)
	}

	s := &c.Settings
	s.ModulePath = abs(s.ModulePath)
	s.ManifestDir = abs(s.ManifestDir)
	s.Manifest = abs(s.Manifest)
	s.TemplateDir = abs(s.TemplateDir)
	s.Config = abs(s.Config)
	s.ConfDir = abs(s.ConfDir)
	s.HieraConfig = abs(s.HieraConfig)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	return v
}

// Validate checks struct constraints and the telemetry section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return engine.NewConfigurationError("configuration validation failed", err)
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return engine.NewConfigurationError("invalid telemetry configuration", err)
		}
	}
	return nil
}
