package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clkernel/internal/cl"
)

var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "clkernel version %s (%s)\n", version, cl.EnumVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
