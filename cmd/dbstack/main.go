// Command dbstack builds, publishes, deploys, verifies, and manages the
// hardened PostgreSQL image and its companion development stack.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func init() {
	// -v belongs to --verbose; version stays long-form only.
	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version",
		Usage: "print the version",
	}
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "dbstack",
		Usage:   "build, deploy, and manage the hardened database stack",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "dbstack.env",
				Usage:   "path to the configuration file",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			buildCommand(),
			pushCommand(),
			deployCommand(),
			verifyCommand(),
			stackCommand(),
			manageCommand(),
		},
	}
}
