// Package manifest synthesizes the minimal source text that exercises a subject.
package manifest

import (
	"fmt"
	"strings"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// Synthesize returns the preconditions followed by the subject statement.
// The result is deterministic: equal subjects yield byte-identical source.
func Synthesize(subject *engine.Subject) (string, error) {
	stmt, err := Statement(subject)
	if err != nil {
		return "", err
	}
	pre := Preconditions(subject.Preconditions)
	switch {
	case pre == "":
		return stmt, nil
	case stmt == "":
		return pre, nil
	default:
		return pre + "\n" + stmt, nil
	}
}

// Statement returns the declaration statement for the subject alone.
func Statement(subject *engine.Subject) (string, error) {
	if subject == nil {
		return "", engine.NewUnsupportedSubjectError("no subject", nil)
	}

	switch subject.Kind {
	case engine.KindClass:
		if subject.Params.Len() == 0 {
			return "include " + subject.Name, nil
		}
		body, err := ParamString(subject.Params)
		if err != nil {
			return "", unrenderable(subject, err)
		}
		return fmt.Sprintf("class { %s: %s }", QuoteString(subject.Name), body), nil

	case engine.KindDefinition:
		if subject.Params == nil {
			return "", engine.NewUnsupportedSubjectError("definition declares no parameters", nil).
				WithSubject(subject.Name).
				WithCode(engine.ErrCodeMissingParameters)
		}
		body, err := ParamString(subject.Params)
		if err != nil {
			return "", unrenderable(subject, err)
		}
		if body == "" {
			return fmt.Sprintf("%s { %s: }", subject.Name, QuoteString(subject.Title)), nil
		}
		return fmt.Sprintf("%s { %s: %s }", subject.Name, QuoteString(subject.Title), body), nil

	case engine.KindHost:
		return "", nil

	default:
		return "", engine.NewUnsupportedSubjectError(
			fmt.Sprintf("kind %q has no catalog statement", subject.Kind), nil).
			WithSubject(subject.Name)
	}
}

// ParamString renders parameters as `name => literal` pairs in declaration order.
func ParamString(params *engine.Params) (string, error) {
	items := params.Items()
	parts := make([]string, 0, len(items))
	for _, p := range items {
		lit, err := RenderValue(p.Value)
		if err != nil {
			return "", fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		parts = append(parts, p.Name+" => "+lit)
	}
	return strings.Join(parts, ", "), nil
}

// Preconditions joins precondition fragments with newlines in declared order.
func Preconditions(fragments []string) string {
	switch len(fragments) {
	case 0:
		return ""
	case 1:
		return fragments[0]
	default:
		return strings.Join(fragments, "\n")
	}
}

func unrenderable(subject *engine.Subject, err error) error {
	return engine.NewUnsupportedSubjectError("parameter value cannot be rendered", err).
		WithSubject(subject.Name).
		WithCode(engine.ErrCodeUnrenderableValue)
}
