// Package main provides the disp-cog command line tool.
package main

import (
	"fmt"
	"os"

	"go.ngs.io/disp-cog/cmd/disp-cog/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
