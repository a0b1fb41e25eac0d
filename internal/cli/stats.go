package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reprofactory/internal/analytics"
	"github.com/lucasnoah/reprofactory/internal/db"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run outcomes and per-stage timing from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dbPath := cfg.Database
		if dbPath == "" {
			dbPath, err = db.DefaultDBPath()
			if err != nil {
				return err
			}
		}
		eventLog, err := db.Open(dbPath)
		if err != nil {
			return err
		}
		defer eventLog.Close()
		if err := eventLog.Migrate(); err != nil {
			return err
		}

		since, _ := cmd.Flags().GetString("since")
		return printStats(cmd, eventLog, since)
	},
}

func printStats(cmd *cobra.Command, eventLog *db.DB, since string) error {
	out := cmd.OutOrStdout()

	summary, err := analytics.QuerySummary(eventLog, since)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Runs:       %d (%d succeeded, %d failed, %.1f%% success)\n",
		summary.Runs, summary.Succeeded, summary.Failed, summary.SuccessPct)
	fmt.Fprintf(out, "Cache hits: %d\n", summary.CacheHits)
	fmt.Fprintf(out, "Resumed:    %d\n", summary.ResumedRuns)

	durations, err := analytics.QueryStageDurations(eventLog, since)
	if err != nil {
		return err
	}
	if len(durations) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tCOUNT\tAVG(s)\tP50(s)\tP95(s)")
		for _, d := range durations {
			fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n", d.Stage, d.Count, d.Avg, d.P50, d.P95)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	failures, err := analytics.QueryFailuresByStage(eventLog, since)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FAILED STAGE\tCOUNT")
		for _, f := range failures {
			fmt.Fprintf(w, "%s\t%d\n", f.Stage, f.Count)
		}
		return w.Flush()
	}
	return nil
}

func init() {
	statsCmd.Flags().String("since", "", "Only include events at or after this timestamp (e.g. 2026-01-01)")
}
