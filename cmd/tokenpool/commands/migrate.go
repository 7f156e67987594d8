package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/migrations"
	"github.com/urfave/cli/v3"
)

func migrateCommand() *cli.Command {
	dsnFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "dsn", Usage: "postgres url (default storage.postgres_dsn)"}
	}
	return &cli.Command{
		Name:  "migrate",
		Usage: "manage the postgres schema",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Flags: []cli.Flag{dsnFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dsn, err := postgresDSN(cmd)
					if err != nil {
						return err
					}
					if err := migrations.PostgresUp(dsn); err != nil {
						return err
					}
					_, err = fmt.Fprintln(out(cmd), "migrations applied")
					return err
				},
			},
			{
				Name:  "down",
				Flags: []cli.Flag{dsnFlag(), &cli.IntFlag{Name: "steps", Value: 1}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dsn, err := postgresDSN(cmd)
					if err != nil {
						return err
					}
					return migrations.PostgresDown(dsn, cmd.Int("steps"))
				},
			},
			{
				Name:  "version",
				Flags: []cli.Flag{dsnFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dsn, err := postgresDSN(cmd)
					if err != nil {
						return err
					}
					v, dirty, err := migrations.PostgresVersion(dsn)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(out(cmd), "version %d (dirty=%t)\n", v, dirty)
					return err
				},
			},
		},
	}
}

func postgresDSN(cmd *cli.Command) (string, error) {
	if cmd.IsSet("dsn") {
		return cmd.String("dsn"), nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Storage.PostgresDSN == "" {
		return "", errors.New("no postgres dsn: pass --dsn or set storage.postgres_dsn")
	}
	return cfg.Storage.PostgresDSN, nil
}
