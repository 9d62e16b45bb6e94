package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/meterlink/internal/server"
)

func newDialectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List supported meter dialects",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-16s %-5s %5s %6s  %s\n", "NAME", "HEAD", "BAUD", "PHASES", "DESCRIPTION")
			for _, d := range server.Dialects() {
				fmt.Fprintf(out, "%-16s %-5s %5d %6d  %s\n", d.Name, d.Transport, d.Baud, d.Phases, d.Description)
			}
		},
	}
}
