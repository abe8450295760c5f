package cmd

import (
	"fmt"

	"rootinit/firststage"

	"github.com/spf13/cobra"
)

func defineFirstStageCommand() *cobra.Command {
	var fstabPath, procMountsPath, newRootDir string

	c := &cobra.Command{
		Use:          "firststage",
		Short:        "perform the early mounts and the first-stage mount/pivot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if errs := firststage.EarlyMount(); len(errs) > 0 {
				for _, e := range errs {
					fmt.Println("firststage: early mount:", e)
				}
			}

			cfg := firststage.DefaultConfig()
			if fstabPath != "" {
				cfg.FstabPath = fstabPath
			}
			if procMountsPath != "" {
				cfg.ProcMountsPath = procMountsPath
			}
			if newRootDir != "" {
				cfg.NewRootDir = newRootDir
			}
			return firststage.Run(cfg)
		},
	}

	c.Flags().StringVar(&fstabPath, "fstab", "", "override the fstab path (default /etc/fstab)")
	c.Flags().StringVar(&procMountsPath, "proc-mounts", "", "override /proc/mounts path")
	c.Flags().StringVar(&newRootDir, "new-root", "", "override the new root staging directory")

	return c
}
