// capacitord is the Capacitor daemon process, run directly in the
// foreground for supervised deployments (systemd/launchd units invoke it
// this way). 'capctl daemon start' does not use this binary: it re-runs
// capctl itself as 'capctl daemon run', which starts the same daemon
// in-process.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xcawolfe-amzn/capacitor/internal/daemon"
)

func main() {
	home := os.Getenv("CAPACITOR_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "capacitord: resolving home directory:", err)
			os.Exit(1)
		}
		home = filepath.Join(userHome, ".capacitor")
	}

	d, err := daemon.New(home)
	if err != nil {
		fmt.Fprintln(os.Stderr, "capacitord: starting daemon:", err)
		os.Exit(1)
	}

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "capacitord: daemon exited with error:", err)
		os.Exit(1)
	}
}
