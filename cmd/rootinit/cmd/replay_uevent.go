package cmd

import (
	"rootinit/devnode"
	"rootinit/sysfsreplay"
	"rootinit/uevent"

	"github.com/spf13/cobra"
)

func defineReplayUeventCommand() *cobra.Command {
	c := &cobra.Command{
		Use:          "replay-uevent <sysfs-dir>",
		Short:        "force the kernel to re-emit uevents under a sysfs directory and materialize their device nodes",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, err := uevent.Open()
			if err != nil {
				return err
			}
			defer sock.Close()

			mat := devnode.New(nil)
			_, err = sysfsreplay.RegenerateUeventForDir(args[0], sock, func(ev uevent.UEvent) sysfsreplay.Signal {
				mat.Handle(ev)
				return sysfsreplay.Continue
			})
			return err
		},
	}
	return c
}
