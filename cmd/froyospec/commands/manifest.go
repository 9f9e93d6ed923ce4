package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyospec/pkg/manifest"
)

func newManifestCommand() *cobra.Command {
	var flags subjectFlags

	cmd := &cobra.Command{
		Use:   "manifest [name]",
		Short: "Print the synthesized manifest for a subject",
		Long: `Print the manifest source that would be compiled for a subject.

Classes without parameters are included; classes with parameters use a
resource-like declaration. Definitions require a title and a declared
parameter set. Hosts compile only their preconditions.`,
		Example: `  # Include a class
  froyospec manifest ntp

  # Declare a class with parameters
  froyospec manifest ntp -p servers='[0.pool.ntp.org]' -p enable=true

  # Declare a definition with no parameters
  froyospec manifest apache::vhost -k definition --title www --empty-params

  # Every subject in a suite
  froyospec manifest --suite spec/suite.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subjects, _, err := flags.subjects(args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			type entry struct {
				Kind     string `json:"kind"`
				Name     string `json:"name"`
				Manifest string `json:"manifest"`
			}
			entries := make([]entry, 0, len(subjects))

			for _, subject := range subjects {
				src, err := manifest.Synthesize(subject)
				if err != nil {
					return err
				}
				entries = append(entries, entry{Kind: string(subject.Kind), Name: subject.Name, Manifest: src})
			}

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			for i, e := range entries {
				if len(entries) > 1 {
					if i > 0 {
						fmt.Fprintln(out)
					}
					fmt.Fprintf(out, "# %s %s\n", e.Kind, e.Name)
				}
				fmt.Fprintln(out, e.Manifest)
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
