package cmd

import (
	"fmt"
	"strconv"

	"rootinit/bootctl"

	"github.com/spf13/cobra"
)

func defineBootctlCommand() *cobra.Command {
	var miscPath, cmdlinePath string

	c := &cobra.Command{
		Use:   "bootctl",
		Short: "query and mutate the A/B boot control record",
	}
	c.PersistentFlags().StringVar(&miscPath, "misc", bootctl.DefaultMiscPartition, "path to the MISC partition")
	c.PersistentFlags().StringVar(&cmdlinePath, "cmdline", bootctl.DefaultCmdlinePath, "path to the kernel command line")

	open := func() (*bootctl.BootControl, error) { return bootctl.Open(miscPath, cmdlinePath) }

	c.AddCommand(&cobra.Command{
		Use:   "number-of-slots",
		Short: "print the number of slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := open()
			if err != nil {
				return err
			}
			n, err := bc.NumberOfSlots()
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "current-slot",
		Short: "print the slot the kernel actually booted",
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := open()
			if err != nil {
				return err
			}
			i, err := bc.CurrentSlot()
			if err != nil {
				return err
			}
			fmt.Println(i)
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "active-slot",
		Short: "print the slot marked active in the control record",
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := open()
			if err != nil {
				return err
			}
			i, err := bc.ActiveSlot()
			if err != nil {
				return err
			}
			fmt.Println(i)
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "set-boot-successful",
		Short: "mark the current slot as having booted successfully",
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := open()
			if err != nil {
				return err
			}
			return bc.SetBootSuccessful()
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "set-active-slot <index>",
		Short: "set the active slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			bc, err := open()
			if err != nil {
				return err
			}
			return bc.SetActiveSlot(i)
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "set-slot-unbootable <index>",
		Short: "zero a slot's remaining boot attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			bc, err := open()
			if err != nil {
				return err
			}
			return bc.SetSlotAsUnbootable(i)
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "is-bootable <index>",
		Short: "print whether a slot still has boot attempts remaining",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			bc, err := open()
			if err != nil {
				return err
			}
			ok, err := bc.IsBootable(i)
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "is-slot-successful <index>",
		Short: "print whether a slot has been marked successful",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			bc, err := open()
			if err != nil {
				return err
			}
			ok, err := bc.IsSlotSuccessful(i)
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		},
	})

	return c
}
