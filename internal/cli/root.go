package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "atwf",
	Short: "Operate an AI team workflow: register workers, route messages, gather replies",
	Long: `atwf drives a tree of interactive AI worker processes against a durable,
file-based team directory: a worker registry, per-worker inboxes, reply-needed
requests, derived agent state, and anti-stall drive nudges.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command, dispatching to whichever subcommand was
// invoked.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default: built-in defaults)")
	rootCmd.PersistentFlags().String("team-dir", "", "team directory (overrides config's team_dir)")
}
