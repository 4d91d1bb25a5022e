package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/catalog"
	"github.com/kyleking/ragsql/internal/errors"
)

func SchemaCommand() *cli.Command {
	return &cli.Command{
		Name:      "schema",
		Usage:     "List catalog tables or describe one",
		ArgsUsage: " [table]",
		Description: `Without an argument list every table in the schema catalog with its column
count. With a table id (or a unique short name) print its columns the way they
appear in prompts.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, err := servicesFromContext(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			catalogs, err := svc.Catalog(ctx)
			if err != nil {
				return err
			}

			return runSchema(catalogs.Current(), cmd.Args().First(), os.Stdout)
		},
	}
}

func runSchema(cat *catalog.Catalog, table string, w io.Writer) error {
	if table != "" {
		ts, ok := cat.Resolve(table)
		if !ok {
			return errors.Newf(errors.ErrTypeNotFound, "table %s is not in the schema catalog", table).
				WithSuggestion("Run 'ragsql schema' to list the known tables")
		}

		fmt.Fprintln(w, catalog.RenderTable(ts))

		return nil
	}

	tables := cat.Tables()
	if len(tables) == 0 {
		fmt.Fprintln(w, "The schema catalog is empty.")
		return nil
	}

	fmt.Fprintf(w, "Schema catalog: %d tables\n\n", len(tables))

	for _, id := range tables {
		fmt.Fprintf(w, "  %-40s %3d columns\n", id, len(cat.ColumnsOf(id)))
	}

	return nil
}
