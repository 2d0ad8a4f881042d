// Package cmd implements the autoscaler's CLI, grounded on the teacher's
// cmd/agent/cmd cobra layout: a root command with persistent dry-run/
// verbose/config flags and a run subcommand that wires every component.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dryRun  bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "autoscaler",
	Short: "Adaptive autoscaler for a containerised workload",
	Long: `autoscaler fuses classified telemetry, pod health, node health, and
queue backlog into replica, memory-limit, and node-pool scaling decisions
for a single managed workload.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(handler))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/default.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log decisions without patching the cluster")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
}

// IsDryRun reports whether --dry-run was set.
func IsDryRun() bool {
	return dryRun
}
