package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/capacitor/internal/shellbeacon"
)

var shellBeaconCmd = &cobra.Command{
	Use:   "shell-beacon <path> <pid> <tty>",
	Short: "Report a shell's current directory to the daemon (or local fallback)",
	Long: `shell-beacon is called from shell precmd hooks to report the calling
shell's current working directory. It tries the daemon socket first; if the
daemon is unreachable it falls back to an flock-guarded rewrite of
shell-cwd.json plus an append to shell-history.jsonl.

Target: well under 15ms. Shells spawn this in the background, so users
never wait on it.`,
	Args: cobra.ExactArgs(3),
	RunE: runShellBeacon,
}

var shellBeaconHomeFlag string

func init() {
	shellBeaconCmd.Flags().StringVar(&shellBeaconHomeFlag, "home", defaultDaemonHome(), "daemon state directory")
	rootCmd.AddCommand(shellBeaconCmd)
}

func runShellBeacon(cmd *cobra.Command, args []string) error {
	path, pidStr, tty := args[0], args[1], args[2]

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return fmt.Errorf("invalid pid %q: %w", pidStr, err)
	}

	home := shellBeaconHomeFlag
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		home = filepath.Join(userHome, ".capacitor")
	}

	return shellbeacon.Report(home, path, pid, tty)
}
