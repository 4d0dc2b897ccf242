// Package main is the entry point for the bundleverify CLI.
package main

import (
	"os"

	"github.com/jujuci/bundleverify/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
