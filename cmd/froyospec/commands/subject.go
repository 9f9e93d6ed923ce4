package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyospec/pkg/engine"
	"github.com/openfroyo/froyospec/pkg/harness"
)

// subjectFlags describe one subject on the command line, or a suite file.
type subjectFlags struct {
	kind          string
	title         string
	subjectNode   string
	suite         string
	params        []string
	facts         []string
	preconditions []string
	emptyParams   bool
}

func (f *subjectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.kind, "kind", "k", "class", "subject kind (class, definition, host, function)")
	cmd.Flags().StringVar(&f.title, "title", "", "definition instance title")
	cmd.Flags().StringVar(&f.subjectNode, "subject-node", "", "node name for this subject only")
	cmd.Flags().StringVarP(&f.suite, "suite", "s", "", "YAML suite file listing subjects")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "parameter as name=value (value parsed as YAML)")
	cmd.Flags().StringArrayVarP(&f.facts, "fact", "f", nil, "fact as name=value (value parsed as YAML)")
	cmd.Flags().StringArrayVar(&f.preconditions, "pre", nil, "precondition source prepended to the manifest")
	cmd.Flags().BoolVar(&f.emptyParams, "empty-params", false, "declare an empty parameter set")
}

// subjects returns the subjects selected by flags and args, and the suite's
// default node if a suite was loaded.
func (f *subjectFlags) subjects(args []string) ([]*engine.Subject, string, error) {
	if f.suite != "" {
		if len(args) > 0 {
			return nil, "", fmt.Errorf("a subject name cannot be combined with --suite")
		}
		suite, err := harness.LoadSuite(f.suite)
		if err != nil {
			return nil, "", err
		}
		return suite.Subjects, suite.Node, nil
	}

	if len(args) != 1 {
		return nil, "", fmt.Errorf("expected exactly one subject name, got %d", len(args))
	}

	kind, err := engine.ParseKind(f.kind)
	if err != nil {
		return nil, "", err
	}

	subject := engine.NewSubject(kind, args[0]).
		WithTitle(f.title).
		WithNode(f.subjectNode).
		WithPreconditions(f.preconditions...)

	if len(f.params) > 0 || f.emptyParams {
		params := engine.NewParams()
		for _, raw := range f.params {
			p, err := harness.ParseParam(raw)
			if err != nil {
				return nil, "", err
			}
			params.Set(p.Name, p.Value)
		}
		subject.Params = params
	}

	if len(f.facts) > 0 {
		env := make(map[string]any, len(f.facts))
		for _, raw := range f.facts {
			p, err := harness.ParseFact(raw)
			if err != nil {
				return nil, "", err
			}
			env[p.Name] = p.Value
		}
		subject.Facts = env
	}

	return []*engine.Subject{subject}, "", nil
}
