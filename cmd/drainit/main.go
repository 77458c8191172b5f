// Command drainit is the command-line interface for the culvert capacity
// and watershed analysis toolkit: it exposes NAACC ingest, rainfall
// config generation, and the full capacity run as cobra subcommands over
// the drainit/internal/workflow manager.
package main

import (
	"fmt"
	"os"

	"github.com/civicmapper/drainit/internal/cli"
)

func main() {
	if err := cli.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
