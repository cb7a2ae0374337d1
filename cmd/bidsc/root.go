package main

import (
	"bidsc/internal/version"

	"github.com/spf13/cobra"
)

var (
	// logLevelFlag overrides the configured log level
	logLevelFlag string
	// logFormatFlag overrides the configured log format (human, json)
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "bidsc",
	Short: "bidsc - BIDS dataset curation",
	Long: `bidsc curates BIDS neuroimaging datasets: it discovers groups of
structurally-equivalent scans (entity sets), partitions them by
acquisition-parameter similarity into parameter groups, and applies
reviewed bulk edits (renames, metadata merges, deletions) as revertible
checkpointed commits.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("bidsc version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn, error (default: from config)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "",
		"Log format: human or json (default: from config)")
}
