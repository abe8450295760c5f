package cmd

import (
	"github.com/spf13/cobra"
)

const appName = "rootinit"

// Execute builds and runs the rootinit command tree.
func Execute() error {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: appName + " - early boot and root-switch engine",
	}

	rootCmd.AddCommand(defineFirstStageCommand())
	rootCmd.AddCommand(defineBootctlCommand())
	rootCmd.AddCommand(defineReplayUeventCommand())

	return rootCmd.Execute()
}
