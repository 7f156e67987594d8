package commands

import (
	"context"
	"io"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/version"
	"github.com/urfave/cli/v3"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, out io.Writer) error {
	cmd := &cli.Command{
		Name:    "tokenpool",
		Usage:   "manage and hand out load-test credentials",
		Version: version.Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (yaml or json)",
				Value:   "tokenpool.yaml",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "storage backend (file|memory|redis|mongodb|postgres)",
			},
			&cli.StringFlag{
				Name:  "store-path",
				Usage: "credential document path for the file backend",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "debug logging in text format",
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			listCommand(),
			getCommand(),
			insertCommand(),
			updateCommand(),
			updateFieldCommand(),
			deleteCommand(),
			acquireCommand(),
			releaseCommand(),
			seedCommand(),
			simulateCommand(),
			exportCommand(),
			importCommand(),
			migrateCommand(),
		},
	}

	return cmd.Run(ctx, args)
}
