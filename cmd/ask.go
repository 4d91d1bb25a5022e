package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/formatter"
	"github.com/kyleking/ragsql/internal/logging"
	"github.com/kyleking/ragsql/internal/pipeline"
	"github.com/kyleking/ragsql/internal/sqlcheck"
)

// askFlags are shared by ask and context
func askFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{Name: "table", Aliases: []string{"t"}, Usage: "Table to include in the schema excerpt (repeatable)"},
		&cli.BoolFlag{Name: "allow-no-examples", Usage: "Continue with an example-free prompt when retrieval fails"},
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "long", Usage: "Output format: long, short, or json"},
	}
}

func AskCommand() *cli.Command {
	flags := append(askFlags(),
		&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Model id overriding llm.model"},
		&cli.BoolFlag{Name: "execute", Aliases: []string{"x"}, Usage: "Run the generated SQL against the warehouse"},
		&cli.BoolFlag{Name: "dry-run", Usage: "Estimate the cost of the generated SQL without running it"},
		&cli.BoolFlag{Name: "no-validate", Usage: "Skip schema validation (read-only checks still apply before execution)"},
		&cli.Int64Flag{Name: "max-bytes-billed", Usage: "Cost ceiling in bytes for this query"},
	)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Generate SQL for a natural-language question",
		ArgsUsage: " <question>",
		Description: `Retrieve similar examples, assemble the prompt, generate SQL with the configured
model and validate it against the schema catalog. With --execute or --dry-run a
valid statement is sent to the warehouse under the cost ceiling.

Examples:
  ragsql ask "total revenue per region last month"
  ragsql ask --execute --format short "top 10 customers by order count"
  ragsql --level table_exists ask --dry-run "daily signups"`,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if question == "" {
				return errors.New(errors.ErrTypeValidation, "a question is required").
					WithSuggestion(`Usage: ragsql ask "your question"`)
			}

			opts, format, err := askOptionsFromFlags(cmd)
			if err != nil {
				return err
			}

			svc, err := servicesFromContext(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			return runAsk(ctx, svc, question, opts, format, os.Stdout)
		},
	}
}

func askOptionsFromFlags(cmd *cli.Command) (pipeline.Options, formatter.OutputFormat, error) {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return pipeline.Options{}, "", errors.Wrap(err, errors.ErrTypeValidation, "invalid --format")
	}

	opts := pipeline.Options{
		SchemaHint:      cmd.StringSlice("table"),
		AllowNoExamples: cmd.Bool("allow-no-examples"),
	}

	// root flags given after the subcommand name
	if cmd.IsSet("k") {
		opts.K = cmd.Int("k")
	}

	if cmd.IsSet("token-budget") {
		opts.TokenBudget = cmd.Int("token-budget")
	}

	if cmd.IsSet("level") {
		level, err := sqlcheck.ParseLevel(cmd.String("level"))
		if err != nil {
			return opts, "", errors.Wrap(err, errors.ErrTypeValidation, "invalid --level")
		}

		opts.Level = level
	}

	if cmd.Name == "ask" {
		opts.ModelID = cmd.String("model")
		opts.Execute = cmd.Bool("execute")
		opts.DryRun = cmd.Bool("dry-run")
		opts.SkipValidation = cmd.Bool("no-validate")
		opts.MaxBytesBilled = cmd.Int64("max-bytes-billed")
	}

	return opts, format, nil
}

func runAsk(ctx context.Context, svc *services, question string, opts pipeline.Options, format formatter.OutputFormat, w io.Writer) error {
	p, err := svc.Pipeline(ctx, opts.Execute || opts.DryRun)
	if err != nil {
		return err
	}

	answer, err := p.Ask(ctx, question, opts)

	if answer != nil && (answer.SQL != "" || err == nil) {
		out, ferr := formatter.NewFormatter().FormatAnswer(answer, format)
		if ferr != nil {
			return ferr
		}

		fmt.Fprintln(w, out)
	}

	if err != nil {
		return err
	}

	if !answer.Valid() {
		logging.Debugf("answer for %q failed validation", question)
		return errors.Newf(errors.ErrTypeValidation, "generated SQL failed %s validation", answer.Validation.Level).
			WithSuggestion("Rephrase the question or name the tables it needs with --table")
	}

	return nil
}
