// Package pipeline answers a question end to end: retrieve examples, assemble
// the prompt, generate SQL, validate it and optionally execute it.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kyleking/ragsql/internal/assembler"
	"github.com/kyleking/ragsql/internal/catalog"
	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/executor"
	"github.com/kyleking/ragsql/internal/index"
	"github.com/kyleking/ragsql/internal/logging"
	"github.com/kyleking/ragsql/internal/metrics"
	"github.com/kyleking/ragsql/internal/sqlcheck"
)

// Retriever finds the examples closest to a question
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) (index.RetrievalResult, error)
}

// Generator turns a prompt into model text
type Generator interface {
	Generate(ctx context.Context, prompt, modelID string) (string, error)
}

// Executor runs SQL against the warehouse
type Executor interface {
	Execute(ctx context.Context, sqlText string, dryRun bool, maxBytesBilled int64) (*executor.Result, error)
}

// Options controls one request. Zero values fall back to the pipeline defaults.
type Options struct {
	K              int
	TokenBudget    int
	SchemaHint     []string
	ModelID        string
	Level          sqlcheck.Level
	DedupThreshold float64
	// SkipValidation bypasses the validator; the executor read-only checks still apply
	SkipValidation bool
	Execute        bool
	DryRun         bool
	MaxBytesBilled int64
	// AllowNoExamples proceeds with an example-free prompt when retrieval fails
	AllowNoExamples   bool
	GenerationRetries int
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration
}

// OptionsFromConfig reads request defaults from configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	level, err := sqlcheck.ParseLevel(cfg.Validation.Level)
	if err != nil {
		return Options{}, errors.NewConfigError(err.Error(), "validation.level")
	}

	return Options{
		K:                 cfg.Retrieval.K,
		TokenBudget:       cfg.Context.TokenBudget,
		ModelID:           cfg.LLM.Model,
		Level:             level,
		DedupThreshold:    cfg.Context.DedupThreshold,
		MaxBytesBilled:    cfg.Execution.MaxBytesBilled,
		GenerationRetries: cfg.LLM.RetryAttempts,
		RetryDelay:        config.Duration(cfg.LLM.RetryDelay, time.Second),
		MaxRetryDelay:     8 * time.Second,
	}, nil
}

func (o Options) merge(defaults Options) Options {
	if o.K <= 0 {
		o.K = defaults.K
	}

	if o.TokenBudget <= 0 {
		o.TokenBudget = defaults.TokenBudget
	}

	if o.ModelID == "" {
		o.ModelID = defaults.ModelID
	}

	if !o.Level.Valid() {
		o.Level = defaults.Level
	}

	if o.DedupThreshold <= 0 {
		o.DedupThreshold = defaults.DedupThreshold
	}

	if o.MaxBytesBilled <= 0 {
		o.MaxBytesBilled = defaults.MaxBytesBilled
	}

	if o.GenerationRetries <= 0 {
		o.GenerationRetries = defaults.GenerationRetries
	}

	if o.RetryDelay <= 0 {
		o.RetryDelay = defaults.RetryDelay
	}

	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = defaults.MaxRetryDelay
	}

	if o.K <= 0 {
		o.K = 8
	}

	if o.TokenBudget <= 0 {
		o.TokenBudget = assembler.DefaultTokenBudget
	}

	if !o.Level.Valid() {
		o.Level = sqlcheck.SchemaStrict
	}

	return o
}

// Answer carries everything produced for one question. Stages that did not
// run leave their fields empty.
type Answer struct {
	Question    string                      `json:"question"`
	Retrieval   index.RetrievalResult       `json:"retrieval"`
	Context     *assembler.AssembledContext `json:"context,omitempty"`
	RawResponse string                      `json:"raw_response,omitempty"`
	SQL         string                      `json:"sql,omitempty"`
	Attempts    int                         `json:"attempts"`
	Validation  *sqlcheck.Report            `json:"validation,omitempty"`
	Execution   *executor.Result            `json:"execution,omitempty"`
	Warnings    []string                    `json:"warnings,omitempty"`
}

// Valid reports whether the SQL passed validation or validation was skipped
func (a *Answer) Valid() bool {
	return a.SQL != "" && (a.Validation == nil || a.Validation.IsValid)
}

// Pipeline holds the long-lived stages shared by every request
type Pipeline struct {
	retriever Retriever
	catalogs  *catalog.Store
	generator Generator
	executor  Executor
	defaults  Options
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a pipeline. exec may be nil when nothing is ever executed.
func New(retriever Retriever, catalogs *catalog.Store, generator Generator, exec Executor, defaults Options) *Pipeline {
	if catalogs == nil {
		catalogs = catalog.NewStaticStore(nil)
	}

	return &Pipeline{
		retriever: retriever,
		catalogs:  catalogs,
		generator: generator,
		executor:  exec,
		defaults:  defaults,
		sleep:     sleepContext,
	}
}

// BuildContext runs retrieval and assembly only
func (p *Pipeline) BuildContext(ctx context.Context, question string, opts Options) (*Answer, error) {
	opts = opts.merge(p.defaults)
	answer := &Answer{Question: question}

	if err := p.assemble(ctx, answer, opts); err != nil {
		return answer, err
	}

	return answer, nil
}

// Ask answers question. An invalid statement is returned with its report and
// no error; it is never executed.
func (p *Pipeline) Ask(ctx context.Context, question string, opts Options) (*Answer, error) {
	opts = opts.merge(p.defaults)
	answer := &Answer{Question: question}

	err := logging.LoggerMiddleware(ctx, "ask", func(ctx context.Context) error {
		if err := p.assemble(ctx, answer, opts); err != nil {
			return err
		}

		if err := p.generate(ctx, answer, opts); err != nil {
			return err
		}

		if !opts.SkipValidation {
			report := sqlcheck.Validate(answer.SQL, p.catalogs.Current(), opts.Level)
			answer.Validation = &report
			metrics.ObserveValidation(opts.Level.String(), report.IsValid)

			if !report.IsValid {
				logging.WithField("errors", len(report.Errors)).Info("generated SQL failed validation")
				return nil
			}
		}

		if !opts.Execute && !opts.DryRun {
			return nil
		}

		if p.executor == nil {
			return errors.New(errors.ErrTypeConfig, "execution requested but no warehouse is configured")
		}

		result, err := p.executor.Execute(ctx, answer.SQL, opts.DryRun, opts.MaxBytesBilled)
		answer.Execution = result

		return err
	})

	return answer, err
}

func (p *Pipeline) assemble(ctx context.Context, answer *Answer, opts Options) error {
	if strings.TrimSpace(answer.Question) == "" {
		return errors.New(errors.ErrTypeValidation, "question is empty")
	}

	retrieval, err := p.retriever.Retrieve(ctx, answer.Question, opts.K)
	if err != nil {
		if !opts.AllowNoExamples || !errors.IsType(err, errors.ErrTypeRetrieval) {
			return err
		}

		logging.WithError(err).Warn("retrieval failed, continuing without examples")
		answer.Warnings = append(answer.Warnings, fmt.Sprintf("retrieval failed, no examples used: %v", err))
		retrieval = nil
	}

	answer.Retrieval = retrieval

	asm := assembler.New(p.catalogs.Current(), assembler.Options{DedupThreshold: opts.DedupThreshold})

	assembled, err := asm.Build(answer.Question, retrieval, opts.SchemaHint, opts.TokenBudget)
	if err != nil {
		return err
	}

	answer.Context = assembled

	if len(assembled.MissingTables) > 0 {
		answer.Warnings = append(answer.Warnings,
			fmt.Sprintf("tables not in the catalog: %s", strings.Join(assembled.MissingTables, ", ")))
	}

	return nil
}

// generate calls the model until a response contains extractable SQL. Model
// call failures are returned as they are; the generator retries those itself.
func (p *Pipeline) generate(ctx context.Context, answer *Answer, opts Options) error {
	attempts := 1 + opts.GenerationRetries

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := backoff(opts.RetryDelay, opts.MaxRetryDelay, attempt-1)
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		}

		answer.Attempts = attempt

		raw, err := p.generator.Generate(ctx, answer.Context.Prompt, opts.ModelID)
		if err != nil {
			metrics.ObserveGenerationAttempt(err)
			return errors.Wrap(err, errors.ErrTypeGeneration, "model call failed")
		}

		answer.RawResponse = raw

		sql, err := sqlcheck.ExtractSQL(raw)
		metrics.ObserveGenerationAttempt(err)

		if err == nil {
			answer.SQL = sql
			return nil
		}

		lastErr = err
		logging.Debugf("generation attempt %d/%d produced no SQL", attempt, attempts)
	}

	return lastErr
}

func backoff(base, maxDelay time.Duration, retry int) time.Duration {
	delay := base << (retry - 1)
	if maxDelay > 0 && (delay <= 0 || delay > maxDelay) {
		delay = maxDelay
	}

	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
