package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X github.com/leftmike/lstore/cmd.Version=...".
var Version = "0.1.0-dev"

func init() {
	lstoreCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of Lstore",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "lstore %s\n", Version)
			},
		})
}
