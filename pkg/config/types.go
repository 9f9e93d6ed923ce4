package config

import (
	"time"

	"github.com/openfroyo/froyospec/pkg/engine"
	"github.com/openfroyo/froyospec/pkg/telemetry"
)

// Compiler types.
const (
	CompilerExec = "exec"
	CompilerWASM = "wasm"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
)

// Config is the process-wide harness configuration.
type Config struct {
	// Certname is the default node identity for class, definition and
	// function subjects.
	Certname string `json:"certname,omitempty" yaml:"certname,omitempty" validate:"omitempty,hostname_rfc1123"`

	// DefaultFacts are merged over base and computed facts for every build.
	DefaultFacts map[string]any `json:"default_facts,omitempty" yaml:"default_facts,omitempty"`

	// FactsFiles are YAML or JSON fact files merged, in order, beneath
	// DefaultFacts.
	FactsFiles []string `json:"facts_files,omitempty" yaml:"facts_files,omitempty" validate:"dive,required"`

	// FactScript is an inline Starlark program computing per-node facts.
	FactScript string `json:"fact_script,omitempty" yaml:"fact_script,omitempty"`

	// FactScriptFile is a Starlark file computing per-node facts.
	FactScriptFile string `json:"fact_script_file,omitempty" yaml:"fact_script_file,omitempty" validate:"excluded_with=FactScript"`

	// FactScriptTimeout bounds one fact script run (Go duration syntax).
	FactScriptTimeout string `json:"fact_script_timeout,omitempty" yaml:"fact_script_timeout,omitempty" validate:"omitempty,duration"`

	// Settings are the default compiler working settings.
	Settings engine.Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Compiler selects and configures the compiler.
	Compiler CompilerConfig `json:"compiler,omitempty" yaml:"compiler,omitempty"`

	// Cache selects the catalog cache backend.
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry *telemetry.Config `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`

	// Source is the file the configuration was loaded from.
	Source string `json:"-" yaml:"-"`
}

// CompilerConfig configures the compiler implementation.
type CompilerConfig struct {
	// Type is "exec" or "wasm". Empty means no compiler is configured.
	Type string `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=exec wasm"`

	// Command is the executable for exec compilers.
	Command string `json:"command,omitempty" yaml:"command,omitempty" validate:"required_if=Type exec"`

	// Args are exec compiler arguments with placeholders.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env is extra environment for exec compilers.
	Env []string `json:"env,omitempty" yaml:"env,omitempty"`

	// Module is the WASM module path for wasm compilers.
	Module string `json:"module,omitempty" yaml:"module,omitempty" validate:"required_if=Type wasm"`

	// Timeout bounds one compilation (Go duration syntax).
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"omitempty,duration"`

	// MemoryLimitPages caps WASM memory in 64KB pages.
	MemoryLimitPages uint32 `json:"memory_limit_pages,omitempty" yaml:"memory_limit_pages,omitempty" validate:"omitempty,max=65536"`
}

// TimeoutDuration returns the parsed timeout, or zero when unset.
func (c CompilerConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// CacheConfig configures the catalog cache.
type CacheConfig struct {
	// Backend is "memory" (default) or "sqlite".
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty" validate:"omitempty,oneof=memory sqlite"`

	// Path is the SQLite database path.
	Path string `json:"path,omitempty" yaml:"path,omitempty" validate:"required_if=Backend sqlite"`
}

// FactScriptTimeoutDuration returns the parsed fact script timeout, or zero
// when unset.
func (c *Config) FactScriptTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.FactScriptTimeout)
	return d
}

// Default returns a configuration with an in-memory cache and no compiler.
func Default() *Config {
	return &Config{
		Cache:     CacheConfig{Backend: CacheMemory},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// ValidationError represents a configuration error with its location.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}
