package engine

import (
	"context"
	"fmt"
	"time"
)

// Facts is a fact environment: fact name to value.
type Facts map[string]any

// Clone returns a shallow copy of the fact environment.
func (f Facts) Clone() Facts {
	out := make(Facts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge overlays other onto f. Keys in other win.
func (f Facts) Merge(other Facts) Facts {
	for k, v := range other {
		f[k] = v
	}
	return f
}

// Settings are the compiler working settings staged for one compilation.
type Settings struct {
	VarDir      string `json:"vardir,omitempty" yaml:"vardir,omitempty"`
	ModulePath  string `json:"module_path,omitempty" yaml:"module_path,omitempty"`
	ManifestDir string `json:"manifest_dir,omitempty" yaml:"manifest_dir,omitempty"`
	Manifest    string `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	TemplateDir string `json:"template_dir,omitempty" yaml:"template_dir,omitempty"`
	Config      string `json:"config,omitempty" yaml:"config,omitempty"`
	ConfDir     string `json:"confdir,omitempty" yaml:"confdir,omitempty"`
	HieraConfig string `json:"hiera_config,omitempty" yaml:"hiera_config,omitempty"`
	LibDir      string `json:"libdir,omitempty" yaml:"libdir,omitempty"`
}

// Overlay returns s with every non-empty field of override applied.
func (s Settings) Overlay(override Settings) Settings {
	pick := func(base, over string) string {
		if over != "" {
			return over
		}
		return base
	}
	return Settings{
		VarDir:      pick(s.VarDir, override.VarDir),
		ModulePath:  pick(s.ModulePath, override.ModulePath),
		ManifestDir: pick(s.ManifestDir, override.ManifestDir),
		Manifest:    pick(s.Manifest, override.Manifest),
		TemplateDir: pick(s.TemplateDir, override.TemplateDir),
		Config:      pick(s.Config, override.Config),
		ConfDir:     pick(s.ConfDir, override.ConfDir),
		HieraConfig: pick(s.HieraConfig, override.HieraConfig),
		LibDir:      pick(s.LibDir, override.LibDir),
	}
}

// CompileRequest is the input handed to the external compiler.
type CompileRequest struct {
	// Node is the node identity to compile for.
	Node string `json:"node"`

	// Facts is the fact environment visible during compilation.
	Facts Facts `json:"facts"`

	// Manifest is the synthesized source text.
	Manifest string `json:"manifest"`

	// Settings are the staged working settings.
	Settings Settings `json:"settings"`

	// WorkDir is a scratch directory private to this compilation. Compilers
	// stage their inputs here rather than in the shared VarDir.
	WorkDir string `json:"work_dir,omitempty"`
}

// Compiler is the external configuration-language compiler boundary.
// Implementations return an engine-specific error on failure; the harness
// surfaces it as a compilation error.
type Compiler interface {
	Compile(ctx context.Context, req *CompileRequest) (*Catalog, error)
}

// FactProvider is the fact-provisioning side of the compiler. Registering a
// name makes subsequent fact lookups during compilation return value; the
// last registration for a name wins.
type FactProvider interface {
	Register(name string, value any)
}

// Catalog is the compiled output for a node. Catalogs returned by the cache
// are shared between callers and must be treated as read-only.
type Catalog struct {
	// Name is the node the catalog was compiled for.
	Name string `json:"name"`

	// Environment is the compilation environment name.
	Environment string `json:"environment,omitempty"`

	// Version is the catalog version reported by the compiler.
	Version string `json:"version,omitempty"`

	// Classes lists the classes declared in the catalog.
	Classes []string `json:"classes,omitempty"`

	// Resources are the catalog resources in compiler order.
	Resources []Resource `json:"resources"`

	// Edges are containment and dependency relationships.
	Edges []Edge `json:"edges,omitempty"`

	// CompiledAt is when the compilation finished.
	CompiledAt time.Time `json:"compiled_at"`
}

// Resource is a single catalog resource.
type Resource struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Exported   bool           `json:"exported,omitempty"`
	File       string         `json:"file,omitempty"`
	Line       int            `json:"line,omitempty"`
}

// Ref returns the resource reference, e.g. File[/etc/motd].
func (r Resource) Ref() string {
	return fmt.Sprintf("%s[%s]", r.Type, r.Title)
}

// Edge is a relationship between two resource references.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Resource looks up a resource by type and title. Type matching is case-insensitive
// on the first letter of each segment, matching how references are written.
func (c *Catalog) Resource(resourceType, title string) (*Resource, bool) {
	want := CanonicalType(resourceType)
	for i := range c.Resources {
		if CanonicalType(c.Resources[i].Type) == want && c.Resources[i].Title == title {
			return &c.Resources[i], true
		}
	}
	return nil, false
}

// ResourceCount returns the number of resources of the given type, or of all
// types when resourceType is empty.
func (c *Catalog) ResourceCount(resourceType string) int {
	if resourceType == "" {
		return len(c.Resources)
	}
	want := CanonicalType(resourceType)
	n := 0
	for _, r := range c.Resources {
		if CanonicalType(r.Type) == want {
			n++
		}
	}
	return n
}

// CanonicalType capitalizes every namespace segment of a resource type,
// e.g. apache::vhost becomes Apache::Vhost.
func CanonicalType(t string) string {
	out := []byte(t)
	start := true
	for i := 0; i < len(out); i++ {
		c := out[i]
		if c == ':' {
			start = true
			continue
		}
		if start && c >= 'a' && c <= 'z' {
			out[i] = c - ('a' - 'A')
		} else if !start && c >= 'A' && c <= 'Z' {
			out[i] = c + ('a' - 'A')
		}
		start = false
	}
	return string(out)
}
