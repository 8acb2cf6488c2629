// Package commands implements the drover CLI subcommands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	configPath  string
	profileDir  string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:           "drover",
	Short:         "Run and supervise autonomous agents",
	Long:          "drover starts, resumes, and supervises budget-governed autonomous agents.\nAgents survive restarts: every pause, error, or shutdown is resumable.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default drover.toml)")
	rootCmd.PersistentFlags().StringVar(&profileDir, "profiles", "profiles", "directory holding YAML agent profiles")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(
		runCmd,
		resumeCmd,
		listCmd,
		showCmd,
		iterationsCmd,
		hitlCmd,
		cancelCmd,
		deleteCmd,
		reportCmd,
	)
}
