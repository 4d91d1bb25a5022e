package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/cache"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/storage"
)

func ClearCommand() *cli.Command {
	return &cli.Command{
		Name:        "clear",
		Usage:       "Clear the example index",
		Description: `Remove every indexed example and build record. This action requires confirmation.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Skip confirmation prompt"},
			&cli.BoolFlag{Name: "cache", Usage: "Also clear the query result cache"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, err := servicesFromContext(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			store, err := svc.Store(ctx, true)
			if err != nil {
				return err
			}

			var results cache.Cache
			if cmd.Bool("cache") {
				results, err = svc.ResultCache(ctx)
				if err != nil {
					return err
				}
			}

			return runClearWithStorage(ctx, cmd.Bool("force"), store, results, os.Stdin, os.Stdout)
		},
	}
}

func runClearWithStorage(ctx context.Context, force bool, store storage.ExampleStore, results cache.Cache, in io.Reader, w io.Writer) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to get statistics")
	}

	if stats.TotalExamples == 0 && results == nil {
		fmt.Fprintln(w, "Index is already empty.")
		return nil
	}

	fmt.Fprintf(w, "This will delete:\n")
	fmt.Fprintf(w, "  • %d examples (index version %d)\n", stats.TotalExamples, stats.IndexVersion)
	fmt.Fprintf(w, "  • %.2f MB of data\n", stats.DatabaseSizeMB)

	if results != nil {
		fmt.Fprintf(w, "  • every cached query result\n")
	}

	if !force {
		fmt.Fprintf(w, "\nAre you sure you want to clear all data? This action cannot be undone.\n")
		fmt.Fprintf(w, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && response == "" {
			return errors.Wrap(err, errors.ErrTypeInternal, "failed to read input")
		}

		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintln(w, "Operation cancelled.")
			return nil
		}
	}

	if err := store.Clear(ctx); err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to clear index")
	}

	if results != nil {
		if err := results.Clear(ctx); err != nil {
			return errors.Wrap(err, errors.ErrTypeInternal, "failed to clear result cache")
		}
	}

	fmt.Fprintln(w, "Index cleared successfully.")

	return nil
}
