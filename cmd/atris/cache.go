package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/glassbead/atris/internal/config"
	"github.com/glassbead/atris/internal/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the route-decision cache",
	}
	cmd.AddCommand(newCacheStatsCmd())
	cmd.AddCommand(newCachePruneCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cached decisions per category",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openStore(configPath)
			if err != nil {
				return err
			}
			stats, err := store.Stats(db)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cached decisions: %d\n", stats.Total)
			cats := make([]string, 0, len(stats.ByCategory))
			for c := range stats.ByCategory {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			for _, c := range cats {
				fmt.Fprintf(out, "  %-10s %d\n", c, stats.ByCategory[c])
			}
			fmt.Fprintf(out, "Cache hits: %d\n", stats.Hits)
			if next := store.NextPrune(cfg.Store.PruneSchedule, time.Now()); !next.IsZero() {
				fmt.Fprintf(out, "Next prune: %s\n", next.Format(time.RFC3339))
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newCachePruneCmd() *cobra.Command {
	var (
		configPath string
		olderThan  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove cached decisions older than the configured max age",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openStore(configPath)
			if err != nil {
				return err
			}
			age := olderThan
			if age <= 0 {
				age = cfg.MaxAge()
			}
			n, err := store.PruneRoutes(db, time.Now().Add(-age))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d route decision(s) older than %s\n", n, age)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override store.max_age_hours (e.g. 72h)")
	return cmd
}

// openStore loads the config and connects to the route cache only; the
// cache commands need no classifier or agents.
func openStore(path string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Connect(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
