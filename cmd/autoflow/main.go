// Package main provides the entry point for the autoflow CLI.
package main

import (
	"os"

	"github.com/randalmurphal/autoflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
