// capctl is the operator CLI for the Capacitor daemon: start/stop/status,
// log tailing, and the foreground entry point the supervised daemon itself
// runs under.
package main

import (
	"fmt"
	"os"

	"github.com/xcawolfe-amzn/capacitor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
