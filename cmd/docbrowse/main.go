// docbrowse - cache-first browser for remote document repositories
package main

import (
	"os"

	"github.com/portalworks/docbrowse/internal/cli"
)

// Version information, set with -ldflags at build time
var (
	Version   = "v0.1.0-dev"
	BuildTime = "unknown"
)

func main() {
	cli.Version = Version
	cli.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
