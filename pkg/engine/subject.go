package engine

import (
	"fmt"
	"strings"
)

// Kind is the kind of unit under test.
type Kind string

const (
	// KindClass is a configuration class.
	KindClass Kind = "class"

	// KindDefinition is a parameterized resource definition.
	KindDefinition Kind = "definition"

	// KindHost is a whole node; the subject itself is the compilation target.
	KindHost Kind = "host"

	// KindFunction is a language function. It resolves a node name like a
	// class but has no catalog statement of its own.
	KindFunction Kind = "function"
)

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindClass:
		return KindClass, nil
	case KindDefinition, "define":
		return KindDefinition, nil
	case KindHost, "node":
		return KindHost, nil
	case KindFunction:
		return KindFunction, nil
	default:
		return "", fmt.Errorf("unknown subject kind %q", s)
	}
}

// Subject describes the unit under test. Optional attributes are explicit:
// a nil Params means no parameters were declared, while an empty non-nil
// Params means parameters were declared with no entries.
type Subject struct {
	// Kind is the subject kind.
	Kind Kind `json:"kind"`

	// Name is the class, definition or host name, lower-cased.
	Name string `json:"name"`

	// Title is the resource instance title for definitions.
	Title string `json:"title,omitempty"`

	// Params are the declared parameters, nil when undeclared.
	Params *Params `json:"-"`

	// Preconditions are source fragments prepended to the synthesized manifest.
	Preconditions []string `json:"preconditions,omitempty"`

	// Node is an explicit node name, overriding the process-wide default.
	Node string `json:"node,omitempty"`

	// Facts are subject-declared facts. Keys of any type are normalized to strings.
	Facts any `json:"facts,omitempty"`

	// Settings override the process-wide compiler settings field by field.
	Settings Settings `json:"settings,omitempty"`
}

// NewSubject creates a subject whose name is derived from a test-group description.
func NewSubject(kind Kind, description string) *Subject {
	return &Subject{
		Kind: kind,
		Name: NormalizeName(description),
	}
}

// NormalizeName case-normalizes a test-group description into a subject name.
func NormalizeName(description string) string {
	return strings.ToLower(strings.TrimSpace(description))
}

// WithTitle sets the definition instance title.
func (s *Subject) WithTitle(title string) *Subject {
	s.Title = title
	return s
}

// WithParams declares the subject's parameters.
func (s *Subject) WithParams(pairs ...Param) *Subject {
	s.Params = NewParams(pairs...)
	return s
}

// WithPreconditions sets the manifest preconditions.
func (s *Subject) WithPreconditions(fragments ...string) *Subject {
	s.Preconditions = fragments
	return s
}

// WithNode sets an explicit node name.
func (s *Subject) WithNode(node string) *Subject {
	s.Node = node
	return s
}

// WithFacts sets subject-declared facts.
func (s *Subject) WithFacts(facts any) *Subject {
	s.Facts = facts
	return s
}

// NodeName resolves the node identity for the subject. Classes, definitions
// and functions compile against the explicit node or defaultNode; hosts
// compile against their own name.
func (s *Subject) NodeName(defaultNode string) string {
	switch s.Kind {
	case KindClass, KindDefinition, KindFunction:
		if s.Node != "" {
			return s.Node
		}
		return defaultNode
	default:
		return s.Name
	}
}
