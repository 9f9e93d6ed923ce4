package facts

import (
	"fmt"
	"os"

	"github.com/openfroyo/froyospec/pkg/engine"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML or JSON fact file into a fact environment.
// JSON is valid YAML, so one decoder serves both.
func LoadFile(path string) (engine.Facts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read facts file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML or JSON fact data.
func Parse(data []byte) (engine.Facts, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse facts: %w", err)
	}
	if raw == nil {
		return engine.Facts{}, nil
	}
	return Normalize(raw)
}

// Marshal encodes a fact environment as YAML with sorted keys.
func Marshal(env engine.Facts) ([]byte, error) {
	data, err := yaml.Marshal(map[string]any(env))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal facts: %w", err)
	}
	return data, nil
}
