// Package main is the entry point for the autowatch CLI.
package main

import (
	"os"

	"autowatch/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
