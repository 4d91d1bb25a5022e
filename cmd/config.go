package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags.`,
		Action: func(ctx context.Context, _ *cli.Command) error {
			return runConfig(getConfigFromContext(ctx), os.Stdout)
		},
	}
}

func runConfig(cfg *config.Config, w io.Writer) error {
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nIndex Database:")
	fmt.Fprintf(w, "  Path: %s\n", cfg.Database.Path)
	fmt.Fprintf(w, "  Max Connections: %d\n", cfg.Database.MaxConnections)
	fmt.Fprintf(w, "  Query Timeout: %s\n", cfg.Database.QueryTimeout)

	fmt.Fprintln(w, "\nCorpus:")
	fmt.Fprintf(w, "  Path: %s\n", orUnset(cfg.Corpus.Path))

	fmt.Fprintln(w, "\nRetrieval:")
	fmt.Fprintf(w, "  K: %d\n", cfg.Retrieval.K)
	fmt.Fprintf(w, "  Distance: %s\n", cfg.Retrieval.Distance)
	fmt.Fprintf(w, "  Hybrid: %t", cfg.Retrieval.Hybrid)

	if cfg.Retrieval.Hybrid {
		fmt.Fprintf(w, " (vector %.2f, lexical %.2f)", cfg.Retrieval.VectorWeight, cfg.Retrieval.LexicalWeight)
	}

	fmt.Fprintln(w)

	fmt.Fprintln(w, "\nEmbedding:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Embedding.Provider)
	fmt.Fprintf(w, "  Model: %s\n", cfg.Embedding.Model)
	fmt.Fprintf(w, "  Dimensions: %d\n", cfg.Embedding.Dimensions)
	fmt.Fprintf(w, "  Rate Limit: %.1f req/s\n", cfg.Embedding.RateLimit)

	fmt.Fprintln(w, "\nLLM:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(w, "  Model: %s\n", cfg.LLM.Model)
	fmt.Fprintf(w, "  Max Tokens: %d\n", cfg.LLM.MaxTokens)
	fmt.Fprintf(w, "  Retry Attempts: %d\n", cfg.LLM.RetryAttempts)

	fmt.Fprintln(w, "\nContext:")
	fmt.Fprintf(w, "  Token Budget: %d\n", cfg.Context.TokenBudget)
	fmt.Fprintf(w, "  Dedup Threshold: %.2f\n", cfg.Context.DedupThreshold)

	fmt.Fprintln(w, "\nValidation:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Validation.Level)

	fmt.Fprintln(w, "\nExecution:")
	fmt.Fprintf(w, "  Max Bytes Billed: %d\n", cfg.Execution.MaxBytesBilled)
	fmt.Fprintf(w, "  Timeout: %s\n", cfg.Execution.Timeout)
	fmt.Fprintf(w, "  Retry Attempts: %d\n", cfg.Execution.RetryAttempts)
	fmt.Fprintf(w, "  Max Rows: %d\n", cfg.Execution.MaxRows)

	fmt.Fprintln(w, "\nWarehouse:")
	fmt.Fprintf(w, "  Driver: %s\n", cfg.Warehouse.Driver)
	fmt.Fprintf(w, "  DSN: %s\n", cfg.Warehouse.DSN)

	fmt.Fprintln(w, "\nSchema:")
	fmt.Fprintf(w, "  Source: %s\n", cfg.Schema.Source)

	if cfg.Schema.Path != "" {
		fmt.Fprintf(w, "  Path: %s\n", cfg.Schema.Path)
	}

	fmt.Fprintln(w, "\nCache:")
	fmt.Fprintf(w, "  Backend: %s\n", cfg.Cache.Backend)

	if cfg.Cache.Backend == "redis" {
		fmt.Fprintf(w, "  Redis: %s (db %d)\n", cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
	} else {
		fmt.Fprintf(w, "  Directory: %s\n", cfg.Cache.Directory)
		fmt.Fprintf(w, "  Max Size: %d MB\n", cfg.Cache.MaxSizeMB)
	}

	fmt.Fprintf(w, "  TTL: %s\n", cfg.Cache.TTL)

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintf(w, "  Add Source: %t\n", cfg.Logging.AddSource)

	fmt.Fprintln(w, "\nDebug:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Debug.Enabled)

	if cfg.Debug.Enabled {
		fmt.Fprintf(w, "  Metrics Port: %d\n", cfg.Debug.MetricsPort)
	}

	fmt.Fprintf(w, "  Verbose: %t\n", cfg.Debug.Verbose)

	if cfg.Debug.Enabled {
		fmt.Fprintln(w, "\nRaw Configuration (JSON):")
		fmt.Fprintln(w, "==========================")

		jsonData, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(jsonData))
	}

	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}

	return s
}
