package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reprofactory/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry counts and sizes per cache partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache(cmd)
		if err != nil {
			return err
		}

		stats, err := store.Stats()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PARTITION\tENTRIES\tBYTES\tTTL")
		for _, p := range cache.Partitions {
			s := stats[p]
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", p, s.Entries, s.Bytes, cache.TTL(p))
		}
		return w.Flush()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [partition]",
	Short: "Clear one cache partition, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache(cmd)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			if err := store.ClearAll(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		}

		p := cache.Partition(args[0])
		if cache.TTL(p) == 0 {
			return fmt.Errorf("unknown partition %q (want papers, repositories, or analysis)", args[0])
		}
		if err := store.Clear(p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", p)
		return nil
	},
}

func openCache(cmd *cobra.Command) (*cache.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cache.NewStore(cfg.Cache.Dir)
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
