package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"bidsc/internal/config"
	"bidsc/internal/grouping"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init <dataset>",
	Short: "Initialize bidsc configuration for a dataset",
	Long: `Creates the .bidsc directory inside the dataset with a default
config.json and a grouping.yaml holding the built-in grouping rules, ready
for editing. Existing files are left alone unless --force is given.

Examples:
  bidsc init /data/ds001
  bidsc init /data/ds001 --force`,
	Args: cobra.ExactArgs(1),
	Run:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration files")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) {
	root, err := filepath.Abs(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	dir := filepath.Join(root, ".bidsc")
	configPath := filepath.Join(dir, "config.json")
	groupingPath := filepath.Join(dir, "grouping.yaml")

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", configPath)
			os.Exit(1)
		}
	}

	cfg := config.DefaultConfig()
	cfg.GroupingConfigPath = groupingPath
	if err := cfg.Save(root); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	if err := grouping.Default().Save(groupingPath); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	fmt.Printf("Initialized bidsc configuration in %s\n", dir)
	fmt.Printf("  %s\n", configPath)
	fmt.Printf("  %s\n", groupingPath)
}
