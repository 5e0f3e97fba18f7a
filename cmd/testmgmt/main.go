// Command testmgmt runs the test management service.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var Version = "v0.1.0"

func main() {
	app := &cli.App{
		Name:    "testmgmt",
		Usage:   "Test management service",
		Version: Version,
		Commands: []*cli.Command{
			serveCommand(),
			createAdminCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
