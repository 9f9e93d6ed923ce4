package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyospec/pkg/config"
	"github.com/openfroyo/froyospec/pkg/stores"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the persistent catalog cache",
		Long: `Inspect and maintain catalogs stored by the sqlite cache backend.

The memory backend keeps nothing between runs, so these commands require
cache.backend to be "sqlite".`,
	}

	cmd.AddCommand(newCacheListCommand())
	cmd.AddCommand(newCacheDeleteCommand())
	cmd.AddCommand(newCachePurgeCommand())

	return cmd
}

func newCacheListCommand() *cobra.Command {
	var (
		node  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached catalogs, newest first",
		Example: `  # Everything
  froyospec cache list

  # One node
  froyospec cache list --for web01.example.com --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *stores.SQLiteStore) error {
				var filter *string
				if node != "" {
					filter = &node
				}

				records, err := store.ListRecords(ctx, filter, limit, 0)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(records)
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DIGEST\tNODE\tRESOURCES\tDURATION\tCOMPILED")
				for _, rec := range records {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
						shortDigest(rec.Digest), rec.Node, rec.Resources,
						time.Duration(rec.DurationMS)*time.Millisecond,
						rec.CompiledAt.Local().Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&node, "for", "", "only catalogs compiled for this node")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of catalogs")

	return cmd
}

func newCacheDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <digest>",
		Short: "Delete one cached catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *stores.SQLiteStore) error {
				if err := store.DeleteRecord(ctx, args[0]); err != nil {
					return err
				}
				log.Info().Str("digest", args[0]).Msg("Catalog deleted")
				return nil
			})
		},
	}
}

func newCachePurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every cached catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *stores.SQLiteStore) error {
				n, err := store.Purge(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d catalogs\n", n)
				return nil
			})
		},
	}
}

// withStore opens the configured sqlite cache for fn.
func withStore(ctx context.Context, fn func(context.Context, *stores.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Cache.Backend != config.CacheSQLite {
		return fmt.Errorf("cache backend is %q: persistent cache commands require %q", cfg.Cache.Backend, config.CacheSQLite)
	}

	store, err := stores.Open(ctx, cfg.Cache.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
