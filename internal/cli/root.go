// Package cli provides the command-line interface for textsieve.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/textsieve/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string

	// Loaded once per invocation in PersistentPreRunE
	cfg        *config.Config
	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "textsieve",
	Short: "Filter and deduplicate text corpora",
	Long: `Textsieve cleans large text corpora for model training.

It recovers records from messy JSONL dumps, drops low-quality blocks with
configurable heuristics (ads, reference lists, author blocks, noise), removes
near-duplicates with MinHash LSH and writes the surviving text blocks in
their original order.

Settings come from textsieve.yaml (or --config / TEXTSIEVE_CONFIG) and
TEXTSIEVE_* environment variables; command flags override both.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		level := cfg.LogLevel()
		if verbose && level > slog.LevelDebug {
			level = slog.LevelDebug
		}
		var logger *slog.Logger
		logger, logCleanup = config.SetupLogger(cfg.Log.File, level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logs, stage timings)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./textsieve.yaml)")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(scheduleCmd)
}
