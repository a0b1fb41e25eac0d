// Package cli wires the repro command tree onto the reproduction
// pipeline components.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "repro",
	Short: "Automated reproduction of published research code",
	Long: `reprofactory takes a paper reference (arXiv ID, URL, or PDF path),
finds an associated code repository, analyzes its dependencies, builds an
execution environment, runs the code, and reports what happened.

Sessions, caches, and the event log live under ~/.reprofactory/ by default;
see 'repro run --help' for per-run overrides.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a reprofactory.yaml config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(statsCmd)
}
