//go:build linux

package main

import "github.com/spf13/cobra"

func init() {
	rootCmd.AddCommand(newBootCmd())
}

func newBootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Initialize the memory subsystem and print its statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := bootSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			s.mem.PrintStats()
			s.printf("tlb flushes: %d\n", s.machine.flushes)
			return nil
		},
	}
}
