// Package facts builds the layered fact environment handed to the compiler
// and provides the fact-provisioning registry compilers look facts up from.
package facts

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/froyospec/pkg/engine"
	"github.com/rs/zerolog"
)

// Computer derives additional default facts for a node from its base facts.
type Computer interface {
	Compute(ctx context.Context, node string, base engine.Facts) (engine.Facts, error)
}

// Builder builds fact environments. Layers are applied in order and later
// layers win on key collision: base facts, computed defaults, static
// defaults, subject facts.
type Builder struct {
	defaults engine.Facts
	computer Computer
	logger   zerolog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithDefaults sets the process-wide default facts.
func WithDefaults(defaults engine.Facts) BuilderOption {
	return func(b *Builder) {
		b.defaults = defaults
	}
}

// WithComputer sets a computer whose output is layered below the static defaults.
func WithComputer(c Computer) BuilderOption {
	return func(b *Builder) {
		b.computer = c
	}
}

// WithLogger sets the builder logger.
func WithLogger(logger zerolog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger.With().Str("component", "facts").Logger()
	}
}

// NewBuilder creates a new fact environment builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the fact environment for node with subjectFacts overlaid.
// subjectFacts may be nil or any map type; its keys are normalized to strings.
func (b *Builder) Build(ctx context.Context, node string, subjectFacts any) (engine.Facts, error) {
	env := BaseFacts(node)

	if b.computer != nil {
		computed, err := b.computer.Compute(ctx, node, env.Clone())
		if err != nil {
			return nil, engine.NewConfigurationError("failed to compute default facts", err).
				WithNode(node).
				WithCode(engine.ErrCodeInvalidFacts)
		}
		env.Merge(computed)
	}

	if len(b.defaults) > 0 {
		env.Merge(b.defaults)
	}

	if subjectFacts != nil {
		overlay, err := Normalize(subjectFacts)
		if err != nil {
			return nil, engine.NewConfigurationError("invalid subject facts", err).
				WithNode(node).
				WithCode(engine.ErrCodeInvalidFacts)
		}
		env.Merge(overlay)
	}

	b.logger.Debug().
		Str("node", node).
		Int("facts_count", len(env)).
		Func(func(e *zerolog.Event) { e.Str("facts", String(env)) }).
		Msg("Built fact environment")

	return env, nil
}

// BaseFacts derives hostname, domain and fqdn from a node identity.
func BaseFacts(node string) engine.Facts {
	hostname, domain := node, ""
	if i := strings.IndexByte(node, '.'); i >= 0 {
		hostname = node[:i]
		domain = node[i+1:]
	}
	return engine.Facts{
		"hostname": hostname,
		"fqdn":     node,
		"domain":   domain,
	}
}

// String renders a fact environment for log output.
func String(env engine.Facts) string {
	keys := SortedKeys(env)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, env[k])
	}
	return strings.Join(parts, " ")
}
