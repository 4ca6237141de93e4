package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Build are overridden by ldflags at release time.
var (
	Version = "0.4.0"
	Build   = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			outputJSON(map[string]string{"version": Version, "build": Build})
			return
		}
		fmt.Printf("tesela version %s (%s)\n", Version, Build)
	},
}
