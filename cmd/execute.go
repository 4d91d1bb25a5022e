package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/formatter"
	"github.com/kyleking/ragsql/internal/pipeline"
)

func ExecuteCommand() *cli.Command {
	return &cli.Command{
		Name:      "execute",
		Usage:     "Run a SQL statement against the warehouse under the cost ceiling",
		ArgsUsage: " [sql]",
		Description: `Estimate the statement with a dry run, refuse it if the estimate exceeds the
cost ceiling, then run it with timeout and retry. Identical statements are served
from the result cache. Data- and schema-modifying statements are always refused.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "Read the statement from a file (- for stdin)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Only estimate the bytes the statement would process"},
			&cli.Int64Flag{Name: "max-bytes-billed", Usage: "Cost ceiling in bytes (overrides execution.max_bytes_billed)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "long", Usage: "Output format: long or json"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sqlText, err := readSQL(cmd, os.Stdin)
			if err != nil {
				return err
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

			exec, err := svc.Executor(ctx)
			if err != nil {
				return err
			}

			ceiling := cmd.Int64("max-bytes-billed")
			if ceiling <= 0 {
				ceiling = svc.cfg.Execution.MaxBytesBilled
			}

			return runExecute(ctx, exec, sqlText, cmd.Bool("dry-run"), ceiling, format, os.Stdout)
		},
	}
}

func runExecute(ctx context.Context, exec pipeline.Executor, sqlText string, dryRun bool, ceiling int64, format formatter.OutputFormat, w io.Writer) error {
	result, err := exec.Execute(ctx, sqlText, dryRun, ceiling)
	if result != nil {
		f := formatter.NewFormatter()

		if format == formatter.FormatJSON {
			out, ferr := f.JSON(result)
			if ferr != nil {
				return ferr
			}

			fmt.Fprintln(w, out)
		} else {
			fmt.Fprintln(w, f.FormatResult(result))
		}
	}

	return err
}
