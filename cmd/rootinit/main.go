// Command rootinit is PID 1 in the initramfs: it performs the early
// pseudo-mounts, the first-stage mount/pivot, and exposes the Boot
// Control Service and uevent-replay machinery as standalone
// subcommands for use from init scripts and debugging shells.
package main

import (
	"fmt"
	"os"

	"rootinit/cmd/rootinit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
