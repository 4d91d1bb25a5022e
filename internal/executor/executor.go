// Package executor runs validated SQL against the warehouse behind a cost
// ceiling, a result cache and bounded retries.
package executor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/ragsql/internal/cache"
	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/logging"
	"github.com/kyleking/ragsql/internal/metrics"
	"github.com/kyleking/ragsql/internal/sqlcheck"
	"github.com/kyleking/ragsql/internal/warehouse"
)

const (
	DefaultTimeout          = 300 * time.Second
	DefaultRetryAttempts    = 3
	DefaultRetryBaseDelay   = 500 * time.Millisecond
	DefaultRetryMaxDelay    = 8 * time.Second
	DefaultCacheTTL         = time.Hour
	DefaultBillingIncrement = 10 << 20
	DefaultMaxBytesBilled   = 10 << 30
)

// Result describes one Execute call. On failure Success is false and
// ErrorMessage repeats the returned error.
type Result struct {
	Success        bool          `json:"success"`
	Columns        []string      `json:"columns,omitempty"`
	Rows           [][]any       `json:"rows,omitempty"`
	RowCount       int           `json:"row_count"`
	Truncated      bool          `json:"truncated,omitempty"`
	BytesProcessed int64         `json:"bytes_processed"`
	BytesBilled    int64         `json:"bytes_billed"`
	ExecutionTime  time.Duration `json:"execution_time"`
	JobID          string        `json:"job_id,omitempty"`
	CacheHit       bool          `json:"cache_hit"`
	DryRun         bool          `json:"dry_run"`
	Signature      string        `json:"signature"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}

// Options configures an Executor
type Options struct {
	MaxBytesBilled   int64
	Timeout          time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BillingIncrement int64
	CacheTTL         time.Duration
}

// DefaultOptions returns the stock execution limits
func DefaultOptions() Options {
	return Options{
		MaxBytesBilled:   DefaultMaxBytesBilled,
		Timeout:          DefaultTimeout,
		RetryAttempts:    DefaultRetryAttempts,
		RetryBaseDelay:   DefaultRetryBaseDelay,
		RetryMaxDelay:    DefaultRetryMaxDelay,
		BillingIncrement: DefaultBillingIncrement,
		CacheTTL:         DefaultCacheTTL,
	}
}

// OptionsFromConfig reads execution limits and the result cache TTL
func OptionsFromConfig(exec config.ExecutionConfig, cacheCfg config.CacheConfig) Options {
	opts := DefaultOptions()

	if exec.MaxBytesBilled > 0 {
		opts.MaxBytesBilled = exec.MaxBytesBilled
	}

	if exec.RetryAttempts > 0 {
		opts.RetryAttempts = exec.RetryAttempts
	}

	if exec.BillingIncrement > 0 {
		opts.BillingIncrement = exec.BillingIncrement
	}

	opts.Timeout = config.Duration(exec.Timeout, DefaultTimeout)
	opts.RetryBaseDelay = config.Duration(exec.RetryBaseDelay, DefaultRetryBaseDelay)
	opts.RetryMaxDelay = config.Duration(exec.RetryMaxDelay, DefaultRetryMaxDelay)
	opts.CacheTTL = config.Duration(cacheCfg.TTL, DefaultCacheTTL)

	return opts
}

// maxMemoizedEstimates bounds the dry-run memo of a long-running process
const maxMemoizedEstimates = 4096

type memoEstimate struct {
	estimate warehouse.Estimate
	expires  time.Time
}

// Executor is safe for concurrent use
type Executor struct {
	client warehouse.Client
	cache  cache.Cache
	opts   Options

	mu        sync.Mutex
	estimates map[string]memoEstimate

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	jobID func() string
}

// New creates an executor. A nil cache disables result caching.
func New(client warehouse.Client, resultCache cache.Cache, opts Options) *Executor {
	defaults := DefaultOptions()

	if opts.MaxBytesBilled <= 0 {
		opts.MaxBytesBilled = defaults.MaxBytesBilled
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}

	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaults.RetryAttempts
	}

	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaults.RetryBaseDelay
	}

	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = defaults.RetryMaxDelay
	}

	if opts.BillingIncrement <= 0 {
		opts.BillingIncrement = defaults.BillingIncrement
	}

	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaults.CacheTTL
	}

	return &Executor{
		client:    client,
		cache:     resultCache,
		opts:      opts,
		estimates: make(map[string]memoEstimate),
		now:       time.Now,
		sleep:     sleepContext,
		jobID:     func() string { return uuid.New().String() },
	}
}

// Options returns the effective limits
func (e *Executor) Options() Options {
	return e.opts
}

// Execute runs sqlText, or only estimates it when dryRun is set. A
// non-positive maxBytesBilled uses the configured ceiling. Before any warehouse
// contact the statement must pass the read-only checks, whether or not it was
// validated upstream.
func (e *Executor) Execute(ctx context.Context, sqlText string, dryRun bool, maxBytesBilled int64) (*Result, error) {
	start := e.now()
	result := &Result{DryRun: dryRun}

	if maxBytesBilled <= 0 {
		maxBytesBilled = e.opts.MaxBytesBilled
	}

	normalized := Normalize(sqlText)
	if normalized == "" {
		return e.fail(result, start, errors.New(errors.ErrTypeValidation, "sql is empty"))
	}

	if verr := sqlcheck.CheckReadOnly(sqlText); verr != nil {
		return e.fail(result, start, errors.NewExecutionError(errors.ReasonBlocked, nil,
			fmt.Sprintf("statement refused before reaching the warehouse: %s", verr.Message)))
	}

	result.Signature = Signature(normalized)
	log := logging.WithFields(map[string]interface{}{"signature": result.Signature[:12], "dry_run": dryRun})

	if dryRun {
		result.JobID = e.jobID()

		est, err := e.estimate(ctx, result.Signature, sqlText)
		if err != nil {
			return e.fail(result, start, err)
		}

		result.Success = true
		result.BytesProcessed = est.BytesProcessed
		result.ExecutionTime = e.now().Sub(start)
		metrics.ObserveExecution("dry_run", result.ExecutionTime, 0, 0)
		log.Debugf("dry run estimated %d bytes", est.BytesProcessed)

		return result, nil
	}

	if cached, ok := e.lookup(ctx, result.Signature); ok {
		cached.CacheHit = true
		cached.BytesProcessed = 0
		cached.BytesBilled = 0
		cached.ExecutionTime = e.now().Sub(start)
		metrics.ObserveExecution("cache_hit", cached.ExecutionTime, 0, 0)
		log.Debug("served from result cache")

		return cached, nil
	}

	result.JobID = e.jobID()

	est, err := e.estimate(ctx, result.Signature, sqlText)
	if err != nil {
		return e.fail(result, start, err)
	}

	result.BytesProcessed = est.BytesProcessed

	if est.BytesProcessed > maxBytesBilled {
		return e.fail(result, start, errors.NewExecutionError(errors.ReasonCostCeiling, nil,
			fmt.Sprintf("estimated %d bytes exceeds the %d byte ceiling", est.BytesProcessed, maxBytesBilled)))
	}

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	var rows *warehouse.Rows

	err = e.retry(runCtx, func(ctx context.Context) error {
		var runErr error
		rows, runErr = e.client.Run(ctx, sqlText)

		return runErr
	})
	if err != nil {
		return e.fail(result, start, err)
	}

	if rows.BytesProcessed > result.BytesProcessed {
		result.BytesProcessed = rows.BytesProcessed
	}

	result.Success = true
	result.Columns = rows.Columns
	result.Rows = rows.Values
	result.RowCount = len(rows.Values)
	result.Truncated = rows.Truncated
	result.BytesBilled = e.bill(result.BytesProcessed)
	result.ExecutionTime = e.now().Sub(start)

	e.store(ctx, result)

	metrics.ObserveExecution("ok", result.ExecutionTime, result.BytesProcessed, result.BytesBilled)
	log.WithField("job_id", result.JobID).Infof("query returned %d rows, billed %d bytes", result.RowCount, result.BytesBilled)

	return result, nil
}

// fail fills result from err and records the outcome
func (e *Executor) fail(result *Result, start time.Time, err error) (*Result, error) {
	result.Success = false
	result.ErrorMessage = err.Error()
	result.ExecutionTime = e.now().Sub(start)
	result.BytesBilled = 0

	outcome := string(errors.GetReason(err))
	if outcome == "" {
		outcome = string(errors.GetType(err))
	}

	metrics.ObserveExecution(outcome, result.ExecutionTime, 0, 0)

	return result, err
}

// estimate returns the memoized dry-run estimate for signature, asking the
// warehouse on a miss. Failed dry runs are not memoized.
func (e *Executor) estimate(ctx context.Context, signature, sqlText string) (warehouse.Estimate, error) {
	e.mu.Lock()
	memo, ok := e.estimates[signature]
	e.mu.Unlock()

	if ok && e.now().Before(memo.expires) {
		return memo.estimate, nil
	}

	dryCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	var est warehouse.Estimate

	err := e.retry(dryCtx, func(ctx context.Context) error {
		var dryErr error
		est, dryErr = e.client.DryRun(ctx, sqlText)

		return dryErr
	})
	if err != nil {
		return warehouse.Estimate{}, err
	}

	e.memoize(signature, est)

	return est, nil
}

// memoize records est for signature, first dropping expired entries and, at
// capacity, the entry closest to expiry.
func (e *Executor) memoize(signature string, est warehouse.Estimate) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	for sig, memo := range e.estimates {
		if !now.Before(memo.expires) {
			delete(e.estimates, sig)
		}
	}

	if _, ok := e.estimates[signature]; !ok && len(e.estimates) >= maxMemoizedEstimates {
		var (
			oldest  string
			expires time.Time
		)

		for sig, memo := range e.estimates {
			if oldest == "" || memo.expires.Before(expires) {
				oldest, expires = sig, memo.expires
			}
		}

		delete(e.estimates, oldest)
	}

	e.estimates[signature] = memoEstimate{estimate: est, expires: now.Add(e.opts.CacheTTL)}
}

// retry calls fn until it succeeds, fails with a non-transient error or the
// attempts run out, doubling the delay between attempts up to RetryMaxDelay
func (e *Executor) retry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < e.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt)
			logging.Debugf("retrying transient warehouse failure in %s (attempt %d/%d)", delay, attempt+1, e.opts.RetryAttempts)

			if err := e.sleep(ctx, delay); err != nil {
				return contextError(err, lastErr)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if errors.GetReason(err) != errors.ReasonTransient {
			return err
		}
	}

	return lastErr
}

func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.opts.RetryBaseDelay << (attempt - 1)
	if delay <= 0 || (e.opts.RetryMaxDelay > 0 && delay > e.opts.RetryMaxDelay) {
		delay = e.opts.RetryMaxDelay
	}

	return delay
}

func contextError(ctxErr, lastErr error) error {
	if stderrors.Is(ctxErr, context.DeadlineExceeded) {
		return errors.NewExecutionError(errors.ReasonTimeout, lastErr, "execution timed out while retrying")
	}

	return errors.Wrap(ctxErr, errors.ErrTypeExecution, "execution canceled")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// bill rounds processed bytes up to the billing increment. Statements that
// scan nothing are free; anything else pays at least one increment.
func (e *Executor) bill(processed int64) int64 {
	if processed <= 0 {
		return 0
	}

	inc := e.opts.BillingIncrement

	return ((processed + inc - 1) / inc) * inc
}

func (e *Executor) lookup(ctx context.Context, signature string) (*Result, bool) {
	if e.cache == nil {
		return nil, false
	}

	data, err := e.cache.Get(ctx, signature)
	if err != nil {
		if !cache.IsMiss(err) {
			logging.Warnf("result cache lookup failed: %v", err)
		}

		metrics.ObserveCacheLookup(false)

		return nil, false
	}

	var cached Result
	if err := json.Unmarshal(data, &cached); err != nil {
		logging.Warnf("discarding unreadable cached result: %v", err)
		metrics.ObserveCacheLookup(false)

		return nil, false
	}

	metrics.ObserveCacheLookup(true)

	return &cached, true
}

func (e *Executor) store(ctx context.Context, result *Result) {
	if e.cache == nil {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		logging.Warnf("failed to encode result for cache: %v", err)
		return
	}

	if err := e.cache.Set(ctx, result.Signature, data, e.opts.CacheTTL); err != nil {
		logging.Warnf("failed to cache result: %v", err)
	}
}
