package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyospec/pkg/facts"
)

func newFactsCommand() *cobra.Command {
	var flags subjectFlags

	cmd := &cobra.Command{
		Use:   "facts [name]",
		Short: "Print the fact environment for a subject",
		Long: `Print the facts a subject would be compiled with.

Facts are layered, later layers winning:
  - hostname, fqdn and domain derived from the node name
  - facts computed by the configured fact script
  - facts files and default facts from the configuration
  - facts declared on the subject`,
		Example: `  # Facts for a class on the configured node
  froyospec facts ntp

  # Facts for a host
  froyospec facts web01.example.com -k host

  # Override a fact
  froyospec facts ntp -n db01.example.com -f osfamily=RedHat`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subjects, suiteNode, err := flags.subjects(args)
			if err != nil {
				return err
			}

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(cmd.Context())
			env.useSuiteNode(suiteNode)

			builder, err := env.builder(cmd.Context())
			if err != nil {
				return err
			}
			defer builder.Close(cmd.Context())

			out := cmd.OutOrStdout()
			for _, subject := range subjects {
				fenv, err := builder.Facts(cmd.Context(), subject)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if err := enc.Encode(fenv); err != nil {
						return err
					}
					continue
				}

				data, err := facts.Marshal(fenv)
				if err != nil {
					return err
				}
				if len(subjects) > 1 {
					if _, err := out.Write([]byte("---\n")); err != nil {
						return err
					}
				}
				if _, err := out.Write(data); err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
