package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/logging"
)

var version = "dev"

type contextKey string

const configKey contextKey = "config"

// overrideFlags are root flags forwarded to config.LoadConfigWithOverrides
var (
	stringOverrides = []string{"db-path", "log-level", "cache-dir", "level", "warehouse-dsn"}
	intOverrides    = []string{"token-budget", "k"}
	boolOverrides   = []string{"verbose", "debug"}
)

// NewApp builds the command tree
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "ragsql",
		Usage:   "Generate, validate and run SQL from natural-language questions",
		Version: version,
		Description: `ragsql retrieves the worked SQL examples closest to a question, assembles them
with the relevant table schemas into a token-budgeted prompt, asks a language model for
SQL, validates the answer against the schema catalog and can run it against the
warehouse under a cost ceiling.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db-path", Usage: "Path of the example index database"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, or error"},
			&cli.StringFlag{Name: "cache-dir", Usage: "Directory of the result cache"},
			&cli.StringFlag{Name: "level", Usage: "Validation level: syntax_only, table_exists, or schema_strict"},
			&cli.StringFlag{Name: "warehouse-dsn", Usage: "Warehouse connection string"},
			&cli.IntFlag{Name: "token-budget", Usage: "Prompt token budget"},
			&cli.IntFlag{Name: "k", Usage: "Number of examples to retrieve"},
			&cli.BoolFlag{Name: "verbose", Usage: "Show debug logging"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug output"},
		},
		Before: setupConfig,
		After: func(context.Context, *cli.Command) error {
			return logging.GetLogger().Close()
		},
		Commands: []*cli.Command{
			IndexCommand(),
			AskCommand(),
			ContextCommand(),
			ValidateCommand(),
			ExecuteCommand(),
			SchemaCommand(),
			ListCommand(),
			InfoCommand(),
			StatsCommand(),
			ClearCommand(),
			ConfigCommand(),
			ServeMetricsCommand(),
		},
	}
}

// Execute runs the CLI until it finishes or the process is interrupted
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewApp().Run(ctx, os.Args)
	if err != nil {
		printError(os.Stderr, err)
	}

	return err
}

func setupConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.LoadConfigWithOverrides(collectOverrides(cmd))
	if err != nil {
		return ctx, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration").
			WithSuggestion("Run 'ragsql config' with defaults to compare settings")
	}

	cfg.ExpandAllPaths()

	if cfg.Debug.Verbose && !cmd.IsSet("log-level") {
		cfg.Logging.Level = "debug"
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		return ctx, errors.Wrap(err, errors.ErrTypeConfig, "failed to initialize logging")
	}

	return withConfig(ctx, cfg), nil
}

func collectOverrides(cmd *cli.Command) map[string]interface{} {
	overrides := make(map[string]interface{})

	for _, name := range stringOverrides {
		if cmd.IsSet(name) {
			overrides[name] = cmd.String(name)
		}
	}

	for _, name := range intOverrides {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Int(name)
		}
	}

	for _, name := range boolOverrides {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Bool(name)
		}
	}

	return overrides
}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// getConfigFromContext returns the configuration loaded by the root command, or
// nil when none was loaded
func getConfigFromContext(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey).(*config.Config)
	return cfg
}

// printError writes err and any suggestions it carries
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var structErr *errors.Error
	if stderrors.As(err, &structErr) {
		for _, s := range structErr.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}
