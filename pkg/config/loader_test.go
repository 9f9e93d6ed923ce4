package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyospec/pkg/engine"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "froyospec.yaml", `
certname: testhost.example.com
default_facts:
  osfamily: Debian
facts_files:
  - facts/common.yaml
settings:
  module_path: fixtures/modules
  hiera_config: /dev/null
compiler:
  type: exec
  command: froyo-compile
  args: ["--node", "{node}"]
  timeout: 30s
cache:
  backend: sqlite
  path: cache.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Certname != "testhost.example.com" {
		t.Errorf("Certname = %q", cfg.Certname)
	}
	if cfg.DefaultFacts["osfamily"] != "Debian" {
		t.Errorf("DefaultFacts = %v", cfg.DefaultFacts)
	}
	if want := filepath.Join(dir, "facts/common.yaml"); cfg.FactsFiles[0] != want {
		t.Errorf("FactsFiles[0] = %q, want %q", cfg.FactsFiles[0], want)
	}
	if want := filepath.Join(dir, "fixtures/modules"); cfg.Settings.ModulePath != want {
		t.Errorf("ModulePath = %q, want %q", cfg.Settings.ModulePath, want)
	}
	if cfg.Settings.HieraConfig != os.DevNull {
		t.Errorf("HieraConfig = %q, want %q", cfg.Settings.HieraConfig, os.DevNull)
	}
	if cfg.Compiler.TimeoutDuration() != 30*time.Second {
		t.Errorf("TimeoutDuration() = %v", cfg.Compiler.TimeoutDuration())
	}
	if want := filepath.Join(dir, "cache.db"); cfg.Cache.Path != want {
		t.Errorf("Cache.Path = %q, want %q", cfg.Cache.Path, want)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q", cfg.Source)
	}
	if cfg.Telemetry == nil || cfg.Telemetry.ServiceName != "froyospec" {
		t.Errorf("telemetry defaults not applied: %+v", cfg.Telemetry)
	}
}

func TestLoad_CUE(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "froyospec.cue", `
certname: "testhost.example.com"
default_facts: {
	osfamily: "RedHat"
}
compiler: {
	type:   "wasm"
	module: "compiler.wasm"
	memory_limit_pages: 256
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Compiler.Type != CompilerWASM {
		t.Errorf("Compiler.Type = %q", cfg.Compiler.Type)
	}
	if want := filepath.Join(dir, "compiler.wasm"); cfg.Compiler.Module != want {
		t.Errorf("Compiler.Module = %q, want %q", cfg.Compiler.Module, want)
	}
	if cfg.Compiler.MemoryLimitPages != 256 {
		t.Errorf("MemoryLimitPages = %d", cfg.Compiler.MemoryLimitPages)
	}
	if cfg.DefaultFacts["osfamily"] != "RedHat" {
		t.Errorf("DefaultFacts = %v", cfg.DefaultFacts)
	}
	if cfg.Cache.Backend != CacheMemory {
		t.Errorf("Cache.Backend = %q, want default %q", cfg.Cache.Backend, CacheMemory)
	}
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"certname": "node.example.com", "fact_script": "role = 'web'"}`), FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Certname != "node.example.com" || cfg.FactScript == "" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil, FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Cache.Backend != CacheMemory {
		t.Errorf("Cache.Backend = %q", cfg.Cache.Backend)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		data    string
		wantMsg string
	}{
		{
			name:   "unknown yaml field",
			format: FormatYAML,
			data:   "certnme: typo.example.com\n",
		},
		{
			name:    "unknown cue field",
			format:  FormatCUE,
			data:    `certnme: "typo.example.com"`,
			wantMsg: "invalid configuration",
		},
		{
			name:    "invalid cue compiler type",
			format:  FormatCUE,
			data:    `compiler: type: "docker"`,
			wantMsg: "invalid configuration",
		},
		{
			name:   "exec compiler without command",
			format: FormatYAML,
			data:   "compiler:\n  type: exec\n",
		},
		{
			name:   "wasm compiler without module",
			format: FormatYAML,
			data:   "compiler:\n  type: wasm\n",
		},
		{
			name:   "sqlite cache without path",
			format: FormatYAML,
			data:   "cache:\n  backend: sqlite\n",
		},
		{
			name:   "invalid timeout",
			format: FormatYAML,
			data:   "compiler:\n  type: exec\n  command: c\n  timeout: soon\n",
		},
		{
			name:   "fact script and file together",
			format: FormatYAML,
			data:   "fact_script: x = 1\nfact_script_file: facts.star\n",
		},
		{
			name:   "otlp without endpoint",
			format: FormatYAML,
			data:   "telemetry:\n  tracing:\n    enabled: true\n    exporter: otlp\n",
		},
		{
			name:   "unsupported format",
			format: "toml",
			data:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			if err == nil {
				t.Fatal("expected error")
			}
			if !engine.IsConfiguration(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "a.cue", want: FormatCUE},
		{path: "a.yaml", want: FormatYAML},
		{path: "a.YML", want: FormatYAML},
		{path: "a.json", want: FormatJSON},
		{path: "a.toml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FormatFromPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FormatFromPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfig_LoadDefaultFacts(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.yaml", "osfamily: Debian\nzone: a\n")
	second := writeFile(t, dir, "second.json", `{"zone": "b"}`)

	cfg := Default()
	cfg.FactsFiles = []string{first, second}
	cfg.DefaultFacts = map[string]any{"role": "web"}

	env, err := cfg.LoadDefaultFacts()
	if err != nil {
		t.Fatalf("LoadDefaultFacts() error = %v", err)
	}

	want := engine.Facts{"osfamily": "Debian", "zone": "b", "role": "web"}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("%s = %v, want %v", k, env[k], v)
		}
	}

	cfg.FactsFiles = []string{filepath.Join(dir, "missing.yaml")}
	if _, err := cfg.LoadDefaultFacts(); !engine.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestConfig_FactScriptComputer(t *testing.T) {
	cfg := Default()
	computer, err := cfg.FactScriptComputer(zerolog.Nop())
	if err != nil || computer != nil {
		t.Fatalf("expected no computer, got %v, %v", computer, err)
	}

	cfg.FactScript = `role = "inline"` + "\n"
	computer, err = cfg.FactScriptComputer(zerolog.Nop())
	if err != nil || computer == nil {
		t.Fatalf("expected inline computer, got %v, %v", computer, err)
	}
}
