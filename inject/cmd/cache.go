package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PatchLens/tracepoint-inject/inject"
)

type cacheOptions struct {
	dir   string
	memMB int
}

func newCacheCommand() *cobra.Command {
	opts := &cacheOptions{}
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the persistent result cache",
	}
	cmd.PersistentFlags().StringVar(&opts.dir, "cache", "", "Directory of the persistent result cache")
	cmd.PersistentFlags().IntVar(&opts.memMB, "cachemb", 200, "Cache memory budget in MB")
	_ = cmd.MarkPersistentFlagRequired("cache")

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the cached results of this engine version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(opts, func(cache *inject.ResultCache) error {
				count, err := cache.Len()
				if err != nil {
					return err
				} else if err := cache.Clear(all); err != nil {
					return err
				}
				if all {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "cleared all cached results")
				} else {
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d cached results of %s\n", count, inject.Version)
				}
				return err
			})
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "Also remove results of other engine versions")

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove cached results written by other engine versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(opts, func(cache *inject.ResultCache) error {
				removed, err := cache.Prune()
				if err != nil {
					return err
				}
				kept, err := cache.Len()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d stale results, %d kept\n", removed, kept)
				return err
			})
		},
	}

	cmd.AddCommand(clearCmd, pruneCmd)
	return cmd
}

func withCache(opts *cacheOptions, fn func(*inject.ResultCache) error) error {
	if opts.memMB < 1 {
		return fmt.Errorf("cachemb must be positive")
	}
	store, err := inject.NewBadgerStorage(opts.dir, opts.memMB)
	if err != nil {
		return err
	}
	cache := inject.NewResultCache(store)
	err = fn(cache)
	if closeErr := cache.Close(); err == nil {
		err = closeErr
	}
	return err
}
