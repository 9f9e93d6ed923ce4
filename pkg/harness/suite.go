package harness

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// Suite is a set of subjects loaded from a YAML file.
//
//	node: testhost.example.com
//	subjects:
//	  - kind: class
//	    name: ntp
//	    params:
//	      servers: [0.pool.ntp.org, 1.pool.ntp.org]
//	      enable: true
//	  - kind: definition
//	    name: apache::vhost
//	    title: www.example.com
//	    params: {}
//	    preconditions:
//	      - "include apache"
//
// Parameter mappings keep their declaration order. An absent or null params
// key means no parameters were declared; {} declares an empty set.
type Suite struct {
	// Node is the suite's default node identity.
	Node string

	// Subjects are the subjects in file order.
	Subjects []*engine.Subject
}

type suiteFile struct {
	Node     string        `yaml:"node"`
	Subjects []subjectSpec `yaml:"subjects"`
}

type subjectSpec struct {
	Kind          string          `yaml:"kind"`
	Name          string          `yaml:"name"`
	Title         string          `yaml:"title"`
	Params        yaml.Node       `yaml:"params"`
	Preconditions []string        `yaml:"preconditions"`
	Node          string          `yaml:"node"`
	Facts         map[string]any  `yaml:"facts"`
	Settings      engine.Settings `yaml:"settings"`
}

// LoadSuite reads a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read suite", err).
			WithDetail("path", path)
	}
	suite, err := ParseSuite(data)
	if err != nil {
		var engineErr *engine.EngineError
		if errors.As(err, &engineErr) {
			engineErr.WithDetail("path", path)
		}
		return nil, err
	}
	return suite, nil
}

// ParseSuite decodes suite YAML.
func ParseSuite(data []byte) (*Suite, error) {
	var file suiteFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, engine.NewConfigurationError("failed to decode suite", err)
	}

	suite := &Suite{
		Node:     file.Node,
		Subjects: make([]*engine.Subject, 0, len(file.Subjects)),
	}

	for i, spec := range file.Subjects {
		kind, err := engine.ParseKind(spec.Kind)
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("subject %d", i), err)
		}
		if strings.TrimSpace(spec.Name) == "" {
			return nil, engine.NewConfigurationError(fmt.Sprintf("subject %d has no name", i), nil)
		}

		params, err := ParamsFromYAML(&spec.Params)
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("subject %d params", i), err).
				WithSubject(spec.Name)
		}

		subject := engine.NewSubject(kind, spec.Name).
			WithTitle(spec.Title).
			WithNode(spec.Node)
		subject.Params = params
		subject.Preconditions = spec.Preconditions
		subject.Settings = spec.Settings
		if spec.Facts != nil {
			subject.Facts = spec.Facts
		}

		suite.Subjects = append(suite.Subjects, subject)
	}

	return suite, nil
}

// ParamsFromYAML converts a YAML mapping node to ordered parameters. It
// returns nil for an absent or null node.
func ParamsFromYAML(node *yaml.Node) (*engine.Params, error) {
	if node == nil || node.Kind == 0 {
		return nil, nil
	}
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, nil
		}
		return ParamsFromYAML(node.Content[0])
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", node.Tag)
	}

	params := engine.NewParams()
	for i := 0; i+1 < len(node.Content); i += 2 {
		value, err := yamlValue(node.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", node.Content[i].Value, err)
		}
		params.Set(node.Content[i].Value, value)
	}
	return params, nil
}

// yamlValue decodes a node, keeping mapping order as *engine.Params.
func yamlValue(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.MappingNode:
		return ParamsFromYAML(node)
	case yaml.SequenceNode:
		list := make([]any, len(node.Content))
		for i, item := range node.Content {
			v, err := yamlValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	case yaml.AliasNode:
		return yamlValue(node.Alias)
	default:
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// ParseParam parses a name=value flag. The value is decoded as YAML, so
// "port=80" yields an integer and "enable=true" a boolean. Mappings keep
// their order.
func ParseParam(s string) (engine.Param, error) {
	return parseAssignment(s, yamlValue)
}

// ParseFact parses a name=value fact flag. Mappings decode to plain maps.
func ParseFact(s string) (engine.Param, error) {
	return parseAssignment(s, func(node *yaml.Node) (any, error) {
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	})
}

func parseAssignment(s string, decode func(*yaml.Node) (any, error)) (engine.Param, error) {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return engine.Param{}, fmt.Errorf("invalid assignment %q: expected name=value", s)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return engine.Param{}, fmt.Errorf("invalid assignment %q: %w", s, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return engine.Param{Name: name, Value: ""}, nil
	}
	value, err := decode(doc.Content[0])
	if err != nil {
		return engine.Param{}, fmt.Errorf("invalid assignment %q: %w", s, err)
	}
	return engine.Param{Name: name, Value: value}, nil
}
