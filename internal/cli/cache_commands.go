package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/portalworks/docbrowse/internal/cache"
	"github.com/portalworks/docbrowse/internal/config"
)

// newCacheCmd creates the 'cache' command group.
func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local listing cache",
		Long: `Commands for the persistent listing cache.

Commands:
  stats  - Show entry counts per namespace
  clear  - Remove cached listings and search results
  purge  - Remove expired entries only`,
	}

	cacheCmd.AddCommand(newCacheStatsCmd())
	cacheCmd.AddCommand(newCacheClearCmd())
	cacheCmd.AddCommand(newCachePurgeCmd())
	return cacheCmd
}

// openCache opens the configured cache without contacting the document store
func openCache(ctx context.Context) (*cache.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openCacheAt(ctx, cfg)
}

func openCacheAt(ctx context.Context, cfg *config.Config) (*cache.Cache, error) {
	if cfg.Cache.Disabled {
		return nil, fmt.Errorf("the cache is disabled in configuration")
	}
	c := cache.New(cfg.Cache.Path, cache.WithPurgeInterval(0), cache.WithLogger(GetLogger()))
	if err := <-c.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", cfg.Cache.Path, err)
	}
	return c, nil
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.Stats(ctx)
			if err != nil {
				return err
			}
			return printCacheStats(cmd.OutOrStdout(), stats)
		},
	}
}

func printCacheStats(w io.Writer, stats cache.Stats) error {
	fmt.Fprintf(w, "Cache: %s\n", stats.Path)

	namespaces := make([]string, 0, len(stats.Entries))
	for ns := range stats.Entries {
		namespaces = append(namespaces, string(ns))
	}
	sort.Strings(namespaces)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tENTRIES")
	for _, ns := range namespaces {
		fmt.Fprintf(tw, "%s\t%d\n", ns, stats.Entries[cache.Namespace(ns)])
	}
	fmt.Fprintf(tw, "expired\t%d\n", stats.Expired)
	return tw.Flush()
}

func newCacheClearCmd() *cobra.Command {
	var listings, searches bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached entries",
		Long: `Remove cached folder listings and search results. The next visit to
each folder is fetched from the document store.

Examples:
  docbrowse cache clear
  docbrowse cache clear --search`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			var namespaces []cache.Namespace
			if listings {
				namespaces = append(namespaces, cache.NamespaceDirectory)
			}
			if searches {
				namespaces = append(namespaces, cache.NamespaceSearch)
			}
			if err := c.Clear(ctx, namespaces...); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&listings, "listings", false, "Only clear folder listings")
	cmd.Flags().BoolVar(&searches, "search", false, "Only clear search results")
	return cmd
}

func newCachePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired entries\n", n)
			return nil
		},
	}
}
