package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyospec/pkg/engine"
	"github.com/openfroyo/froyospec/pkg/facts"
)

// FactScript computes per-node facts with a Starlark program. The program
// sees two predeclared names: node (the node identity) and facts (a dict of
// the base facts). Every exported top-level global becomes a fact.
//
//	role = "database" if node.startswith("db") else "web"
//	is_virtual = facts["domain"] == "cloud.example.com"
type FactScript struct {
	evaluator *StarlarkEvaluator
	filename  string
	source    string
}

var _ facts.Computer = (*FactScript)(nil)

// NewFactScript creates a fact script from source.
func NewFactScript(filename, source string, timeout time.Duration, logger zerolog.Logger) *FactScript {
	if filename == "" {
		filename = "facts.star"
	}
	return &FactScript{
		evaluator: NewStarlarkEvaluator(timeout, logger),
		filename:  filename,
		source:    source,
	}
}

// LoadFactScript reads a fact script from path.
func LoadFactScript(path string, timeout time.Duration, logger zerolog.Logger) (*FactScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read fact script", err).
			WithDetail("path", path)
	}
	return NewFactScript(path, string(data), timeout, logger), nil
}

// FactScriptComputer returns the configured fact script, or nil when none
// is set.
func (c *Config) FactScriptComputer(logger zerolog.Logger) (*FactScript, error) {
	switch {
	case c.FactScriptFile != "":
		return LoadFactScript(c.FactScriptFile, c.FactScriptTimeoutDuration(), logger)
	case c.FactScript != "":
		return NewFactScript("", c.FactScript, c.FactScriptTimeoutDuration(), logger), nil
	default:
		return nil, nil
	}
}

// Compute runs the script for node.
func (s *FactScript) Compute(ctx context.Context, node string, base engine.Facts) (engine.Facts, error) {
	result, err := s.evaluator.Evaluate(ctx, s.filename, s.source, map[string]interface{}{
		"node":  node,
		"facts": map[string]interface{}(base.Clone()),
	})
	if err != nil {
		return nil, err
	}
	return engine.Facts(result.Output), nil
}

// LoadDefaultFacts merges FactsFiles in order, then DefaultFacts.
func (c *Config) LoadDefaultFacts() (engine.Facts, error) {
	env := engine.Facts{}
	for _, path := range c.FactsFiles {
		loaded, err := facts.LoadFile(path)
		if err != nil {
			return nil, engine.NewConfigurationError("failed to load facts file", err).
				WithCode(engine.ErrCodeInvalidFacts).
				WithDetail("path", path)
		}
		env = env.Merge(loaded)
	}
	return env.Merge(engine.Facts(c.DefaultFacts)), nil
}
