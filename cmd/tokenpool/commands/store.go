package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/credential"
	"github.com/urfave/cli/v3"
)

func out(cmd *cli.Command) io.Writer {
	return cmd.Root().Writer
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create an empty credential document if none exists",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.backend.Health(ctx); err != nil {
				return fmt.Errorf("storage health check: %w", err)
			}
			_, err = fmt.Fprintf(out(cmd), "credential store ready (%s)\n", rt.backend.Name())
			return err
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "show every credential",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			all, err := rt.store.GetAll(ctx)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)

			if cmd.Bool("json") {
				recs := make([]credential.Record, 0, len(names))
				for _, name := range names {
					recs = append(recs, all[name])
				}
				return writeJSON(out(cmd), recs)
			}

			tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tOCCUPIED\tTOKEN\tLOGIN\tUPDATED")
			for _, name := range names {
				rec := all[name]
				token := "yes"
				if rec.IsDirty() {
					token = "missing"
				}
				login := "-"
				if rec.LoginTime != nil {
					login = rec.LoginTime.Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", name, rec.Occupied, token, login, rec.UpdateTime.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "show one credential",
		ArgsUsage: "USERNAME",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1); err != nil {
				return err
			}
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.store.Get(ctx, cmd.Args().First())
			if err != nil {
				return err
			}
			return writeJSON(out(cmd), rec)
		},
	}
}

func insertCommand() *cli.Command {
	return &cli.Command{
		Name:      "insert",
		Usage:     "store a credential obtained from a login",
		ArgsUsage: "USERNAME PASSWORD TOKEN",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 3); err != nil {
				return err
			}
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			args := cmd.Args()
			return rt.store.Insert(ctx, args.Get(0), args.Get(1), args.Get(2))
		},
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "replace password, token or occupancy of a credential",
		ArgsUsage: "USERNAME",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "password"},
			&cli.StringFlag{Name: "token"},
			&cli.BoolFlag{Name: "occupied"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1); err != nil {
				return err
			}
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			username := cmd.Args().First()
			rec, err := rt.store.Get(ctx, username)
			if err != nil {
				return err
			}
			meta := rec.Meta()
			if cmd.IsSet("password") {
				meta.Password = cmd.String("password")
			}
			if cmd.IsSet("token") {
				meta.Token = cmd.String("token")
			}
			if cmd.IsSet("occupied") {
				meta.Occupied = cmd.Bool("occupied")
			}
			return rt.store.Update(ctx, username, meta)
		},
	}
}

func updateFieldCommand() *cli.Command {
	return &cli.Command{
		Name:      "update-field",
		Usage:     "patch one field (password, Authorization, is_occupancy)",
		ArgsUsage: "USERNAME FIELD VALUE",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 3); err != nil {
				return err
			}
			args := cmd.Args()
			field := args.Get(1)
			var value any = args.Get(2)
			if field == credential.FieldOccupied {
				b, err := strconv.ParseBool(args.Get(2))
				if err != nil {
					return fmt.Errorf("%w: %s must be true or false", credential.ErrInvalidValue, field)
				}
				value = b
			}

			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.store.UpdateField(ctx, args.Get(0), field, value)
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "remove a free credential",
		ArgsUsage: "USERNAME",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1); err != nil {
				return err
			}
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.store.Delete(ctx, cmd.Args().First())
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write the raw credential document to a file or stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "output path (default stdout)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			data, err := rt.store.Export(ctx)
			if err != nil {
				return err
			}
			if path := cmd.String("file"); path != "" {
				return os.WriteFile(path, data, 0o600)
			}
			_, err = out(cmd).Write(data)
			return err
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "replace the credential document with the contents of a file",
		ArgsUsage: "FILE",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1); err != nil {
				return err
			}
			data, err := os.ReadFile(cmd.Args().First())
			if err != nil {
				return err
			}
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			corrupt, err := rt.store.Import(ctx, data)
			if err != nil {
				return err
			}
			for _, name := range corrupt {
				fmt.Fprintf(out(cmd), "warning: record %q cannot be decoded and will be skipped\n", name)
			}
			return nil
		},
	}
}
