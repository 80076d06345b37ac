// Package cli implements capctl, the capacitord operator CLI.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "capctl",
	Short: "Operate the Capacitor observability daemon",
	Long: `capctl starts, stops, and inspects the Capacitor daemon.

The daemon itself does nothing intelligent - it records hook events,
reduces them into session state, and resolves which shell a project's
activity should route to. capctl is just the operator's window into it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          requireSubcommand,
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

// Execute runs the root command and returns any error for the caller to
// report and translate into a process exit code.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
