package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/formatter"
	"github.com/kyleking/ragsql/internal/storage"
)

func InfoCommand() *cli.Command {
	return &cli.Command{
		Name:        "info",
		Usage:       "Display one indexed example",
		Description: `Show the description, tables, join hints and SQL of an indexed example.`,
		ArgsUsage:   " <example-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "long", Usage: "Output format: long or json"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 1 {
				return fmt.Errorf("expected exactly 1 argument, got %d", args.Len())
			}

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

			return runInfoWithStorage(ctx, args.First(), store, format, os.Stdout)
		},
	}
}

func runInfoWithStorage(ctx context.Context, id string, store storage.ExampleStore, format formatter.OutputFormat, w io.Writer) error {
	rec, err := store.GetExample(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrExampleNotFound) {
			return errors.Wrapf(err, errors.ErrTypeNotFound, "no example with id %q", id).
				WithSuggestion("Run 'ragsql list' to see the indexed examples")
		}

		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to get example")
	}

	out, err := formatter.NewFormatter().FormatExample(*rec, format)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, out)

	return nil
}
