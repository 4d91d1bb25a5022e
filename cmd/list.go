package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/formatter"
	"github.com/kyleking/ragsql/internal/storage"
)

func ListCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List the examples in the index",
		Description: `Display the indexed examples with their description and referenced tables.`,
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 50, Usage: "Maximum number of examples to display"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Number of examples to skip"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "short", Usage: "Output format: short, long, or json"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := formatter.ParseFormat(cmd.String("format"))
			if err != nil {
				return errors.Wrap(err, errors.ErrTypeValidation, "invalid --format")
			}

			svc, err := servicesFromContext(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			store, err := svc.Store(ctx, true)
			if err != nil {
				return err
			}

			return runListWithStorage(ctx, store, cmd.Int("limit"), cmd.Int("offset"), format, os.Stdout)
		},
	}
}

func runListWithStorage(ctx context.Context, store storage.ExampleStore, limit, offset int, format formatter.OutputFormat, w io.Writer) error {
	if limit <= 0 {
		return errors.Newf(errors.ErrTypeValidation, "limit must be positive, got %d", limit)
	}

	if offset < 0 {
		return errors.Newf(errors.ErrTypeValidation, "offset must not be negative, got %d", offset)
	}

	records, err := store.ListExamples(ctx, limit, offset)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to list examples")
	}

	f := formatter.NewFormatter()

	if format == formatter.FormatJSON {
		out, err := f.JSON(records)
		if err != nil {
			return err
		}

		fmt.Fprintln(w, out)

		return nil
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No examples found.")
		return nil
	}

	for i, rec := range records {
		out, err := f.FormatExample(rec, format)
		if err != nil {
			return err
		}

		if format == formatter.FormatLong && i > 0 {
			fmt.Fprintln(w)
		}

		fmt.Fprintln(w, out)
	}

	return nil
}
