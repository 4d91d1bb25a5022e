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
	"github.com/kyleking/ragsql/internal/pipeline"
)

func ContextCommand() *cli.Command {
	return &cli.Command{
		Name:      "context",
		Usage:     "Print the prompt that would be sent to the model",
		ArgsUsage: " <question>",
		Description: `Run retrieval and assembly only and print the assembled prompt with its token
accounting. No model is called.`,
		Flags: askFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if question == "" {
				return errors.New(errors.ErrTypeValidation, "a question is required")
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

			return runContext(ctx, svc, question, opts, format, os.Stdout)
		},
	}
}

func runContext(ctx context.Context, svc *services, question string, opts pipeline.Options, format formatter.OutputFormat, w io.Writer) error {
	p, err := svc.Pipeline(ctx, false)
	if err != nil {
		return err
	}

	answer, err := p.BuildContext(ctx, question, opts)
	if err != nil {
		return err
	}

	assembled := answer.Context
	f := formatter.NewFormatter()

	switch format {
	case formatter.FormatJSON:
		out, err := f.JSON(assembled)
		if err != nil {
			return err
		}

		fmt.Fprintln(w, out)
	case formatter.FormatShort:
		fmt.Fprintln(w, assembled.Prompt)
	default:
		fmt.Fprintf(w, "Tokens: %d/%d\n", assembled.TokenCount, assembled.TokenBudget)
		fmt.Fprintf(w, "Tables: %s\n", strings.Join(assembled.Tables, ", "))
		fmt.Fprintf(w, "Examples: %d kept, %d near duplicates dropped, %d over budget\n",
			len(assembled.Examples), assembled.DroppedDuplicates, assembled.DroppedForBudget)

		for _, warning := range answer.Warnings {
			fmt.Fprintf(w, "Warning: %s\n", warning)
		}

		fmt.Fprintln(w, strings.Repeat("-", 40))
		fmt.Fprintln(w, assembled.Prompt)
	}

	return nil
}
