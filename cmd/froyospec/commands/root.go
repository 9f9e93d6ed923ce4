package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyospec/pkg/config"
	"github.com/openfroyo/froyospec/pkg/harness"
	"github.com/openfroyo/froyospec/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	nodeName   string
	verbose    bool
	jsonOutput bool
)

// defaultConfigFiles are tried, in order, when --config is not given.
var defaultConfigFiles = []string{"froyospec.cue", "froyospec.yaml", "froyospec.yml", "froyospec.json"}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyospec",
		Short: "froyospec - catalog test harness",
		Long: `froyospec compiles configuration classes, definitions and hosts into
catalogs so their contents can be tested.

For each subject it synthesizes a minimal manifest, builds the fact
environment for the target node, and compiles the pair with an external
compiler. Catalogs are cached by node, facts and manifest.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (.cue, .yaml, .json)")
	rootCmd.PersistentFlags().StringVarP(&nodeName, "node", "n", "", "default node name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newManifestCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newCompileCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// environment is the configuration and telemetry shared by commands.
type environment struct {
	cfg *config.Config
	tel *telemetry.Telemetry
}

// loadEnvironment loads configuration and applies global flags.
func loadEnvironment() (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if nodeName != "" {
		cfg.Certname = nodeName
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &environment{cfg: cfg, tel: tel}, nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	for _, name := range defaultConfigFiles {
		if _, err := os.Stat(name); err == nil {
			return config.Load(name)
		}
	}
	return config.Default(), nil
}

// useSuiteNode makes a suite's node the default unless --node was given.
func (e *environment) useSuiteNode(node string) {
	if node != "" && nodeName == "" {
		e.cfg.Certname = node
	}
}

// builder creates a harness builder for the environment.
func (e *environment) builder(ctx context.Context, opts ...harness.Option) (*harness.Builder, error) {
	return harness.FromConfig(ctx, e.cfg, e.tel, opts...)
}

func (e *environment) close(ctx context.Context) {
	if err := e.tel.Shutdown(ctx); err != nil {
		e.tel.Logger.WithError(err).Warn("Failed to shut down telemetry")
	}
}
