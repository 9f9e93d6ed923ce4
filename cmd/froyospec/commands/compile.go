package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/froyospec/pkg/cache"
	"github.com/openfroyo/froyospec/pkg/config"
	"github.com/openfroyo/froyospec/pkg/engine"
	"github.com/openfroyo/froyospec/pkg/harness"
	"github.com/openfroyo/froyospec/pkg/telemetry"
)

func newCompileCommand() *cobra.Command {
	var (
		flags         subjectFlags
		parallel      int
		showResources bool
		watch         bool
		watchPaths    []string
	)

	cmd := &cobra.Command{
		Use:   "compile [name]",
		Short: "Compile catalogs for subjects",
		Long: `Compile the catalog for one subject or every subject in a suite.

The synthesized manifest and fact environment are handed to the configured
compiler. Identical node, facts and manifest are compiled once; with a
sqlite cache backend, catalogs persist between runs. The persistent cache
does not notice changed module sources: run "froyospec cache purge" after
editing them.

With --watch, subjects are recompiled whenever files under the module path,
the manifest directory, the configuration or the suite change. Watch mode
always uses an in-memory cache.`,
		Example: `  # Compile a class
  froyospec compile ntp -p servers='[0.pool.ntp.org]'

  # Compile a suite, four subjects at a time
  froyospec compile --suite spec/suite.yaml --parallel 4

  # Recompile on change
  froyospec compile --suite spec/suite.yaml --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			subjects, suiteNode, err := flags.subjects(args)
			if err != nil {
				return err
			}

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)
			env.useSuiteNode(suiteNode)

			ctx = env.tel.WithContext(ctx)
			out := cmd.OutOrStdout()

			if !watch {
				builder, err := env.builder(ctx)
				if err != nil {
					return err
				}
				defer builder.Close(ctx)
				return compileOnce(ctx, out, builder, subjects, parallel, showResources)
			}

			paths := watchPaths
			if len(paths) == 0 {
				paths = defaultWatchPaths(env.cfg, flags.suite)
			}
			if len(paths) == 0 {
				return fmt.Errorf("nothing to watch: set settings.module_path or pass --watch-path")
			}

			env.cfg.Cache = config.CacheConfig{Backend: config.CacheMemory}

			logger := env.tel.Logger.NewComponentLogger("watch")

			errCh := make(chan error, 1)
			shutdown := env.tel.Metrics.StartMetricsServer(errCh)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(shutdownCtx)
			}()
			go func() {
				select {
				case err := <-errCh:
					logger.WithError(err).Error("Metrics server failed")
				case <-ctx.Done():
				}
			}()

			watcher := harness.NewWatcher(paths, 0, env.tel.Logger.Zerolog())
			return watcher.Run(ctx, func(ctx context.Context) error {
				// A fresh cache per run so changed sources are recompiled.
				builder, err := env.builder(ctx, harness.WithCache(cache.New(cache.WithLogger(env.tel.Logger.Zerolog()))))
				if err != nil {
					return err
				}
				defer builder.Close(ctx)

				logger.Info("Compiling subjects")
				fmt.Fprintf(out, "==> %s\n", time.Now().Format(time.TimeOnly))
				return compileOnce(ctx, out, builder, subjects, parallel, showResources)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&parallel, "parallel", 4, "maximum concurrent compilations")
	cmd.Flags().BoolVarP(&showResources, "resources", "r", false, "list catalog resources")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "recompile when sources change")
	cmd.Flags().StringArrayVar(&watchPaths, "watch-path", nil, "path to watch (default: module path, manifest dir, config, suite)")

	return cmd
}

// compileResult is the JSON form of one build.
type compileResult struct {
	Kind     string          `json:"kind"`
	Name     string          `json:"name"`
	Node     string          `json:"node,omitempty"`
	Duration string          `json:"duration"`
	Catalog  *engine.Catalog `json:"catalog,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func compileOnce(ctx context.Context, out io.Writer, builder *harness.Builder, subjects []*engine.Subject, parallel int, showResources bool) (err error) {
	op := telemetry.StartOperation(ctx, "compile", attribute.Int("subjects", len(subjects)))
	defer func() { op.End(err) }()

	results := builder.BuildAll(op.Ctx, subjects, parallel)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			op.Logger.WithSubject(string(r.Subject.Kind), r.Subject.Name).WithError(r.Err).Debug("Subject failed")
		}
	}
	op.Logger.WithFields(map[string]interface{}{
		"failed":   failed,
		"duration": op.Timer.Duration().String(),
	}).Debug("Compile run finished")

	if jsonOutput {
		payload := make([]compileResult, len(results))
		for i, r := range results {
			node, _ := builder.NodeName(r.Subject)
			payload[i] = compileResult{
				Kind:     string(r.Subject.Kind),
				Name:     r.Subject.Name,
				Node:     node,
				Duration: r.Duration.String(),
				Catalog:  r.Catalog,
			}
			if r.Err != nil {
				payload[i].Error = r.Err.Error()
			}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(payload); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(out, "FAIL %s %s: %v\n", r.Subject.Kind, r.Subject.Name, r.Err)
				continue
			}
			fmt.Fprintf(out, "ok   %s %s (%s): %d resources in %s\n",
				r.Subject.Kind, r.Subject.Name, r.Catalog.Name, len(r.Catalog.Resources),
				r.Duration.Round(time.Millisecond))
			if showResources {
				for _, res := range r.Catalog.Resources {
					fmt.Fprintf(out, "       %s\n", res.Ref())
				}
			}
		}

		stats := builder.Stats()
		fmt.Fprintf(out, "\n%d subjects, %d failed, %d compiled, %d from cache\n",
			len(results), failed, stats.Compilations, stats.Hits)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d subjects failed", failed, len(results))
	}
	return nil
}

func defaultWatchPaths(cfg *config.Config, suite string) []string {
	var paths []string
	for _, p := range []string{cfg.Settings.ModulePath, cfg.Settings.ManifestDir, cfg.Source, suite} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
