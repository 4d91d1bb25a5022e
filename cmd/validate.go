package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/catalog"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/formatter"
	"github.com/kyleking/ragsql/internal/metrics"
	"github.com/kyleking/ragsql/internal/sqlcheck"
)

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a SQL statement against the schema catalog",
		ArgsUsage: " [sql]",
		Description: `Check a statement at the configured validation level. The SQL is taken from the
arguments, from --file, or from standard input when --file is "-".`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "Read the statement from a file (- for stdin)"},
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

			levelName := svc.cfg.Validation.Level
			if cmd.IsSet("level") {
				levelName = cmd.String("level")
			}

			level, err := sqlcheck.ParseLevel(levelName)
			if err != nil {
				return errors.Wrap(err, errors.ErrTypeValidation, "invalid validation level")
			}

			catalogs, err := svc.Catalog(ctx)
			if err != nil {
				return err
			}

			return runValidate(sqlText, catalogs.Current(), level, format, os.Stdout)
		},
	}
}

// readSQL takes the statement from --file or the arguments
func readSQL(cmd *cli.Command, stdin io.Reader) (string, error) {
	var sqlText string

	switch file := cmd.String("file"); file {
	case "":
		sqlText = strings.Join(cmd.Args().Slice(), " ")
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrTypeFileSystem, "failed to read SQL from stdin")
		}

		sqlText = string(data)
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return "", errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to read SQL file %s", file)
		}

		sqlText = string(data)
	}

	if strings.TrimSpace(sqlText) == "" {
		return "", errors.New(errors.ErrTypeValidation, "no SQL given").
			WithSuggestion("Pass the statement as an argument or with --file")
	}

	return sqlText, nil
}

func runValidate(sqlText string, cat *catalog.Catalog, level sqlcheck.Level, format formatter.OutputFormat, w io.Writer) error {
	report := sqlcheck.Validate(sqlText, cat, level)
	metrics.ObserveValidation(level.String(), report.IsValid)

	f := formatter.NewFormatter()

	if format == formatter.FormatJSON {
		out, err := f.JSON(report)
		if err != nil {
			return err
		}

		fmt.Fprintln(w, out)
	} else {
		fmt.Fprintln(w, f.FormatReport(report))
	}

	if !report.IsValid {
		return errors.Newf(errors.ErrTypeValidation, "statement failed %s validation with %d errors", level, len(report.Errors))
	}

	return nil
}
