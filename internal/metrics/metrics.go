// Package metrics exposes Prometheus collectors for each pipeline stage.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	retrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_retrievals_total",
			Help: "Total number of example retrievals by outcome.",
		},
		[]string{"outcome"},
	)
	retrievalLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragsql_retrieval_latency_ms",
			Help:    "Example retrieval latency in milliseconds, embedding included.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		},
	)
	assembledTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragsql_assembled_context_tokens",
			Help:    "Estimated tokens in assembled prompts.",
			Buckets: prometheus.ExponentialBuckets(128, 2, 10),
		},
	)
	budgetExceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragsql_context_budget_exceeded_total",
			Help: "Total number of prompts whose schema did not fit the token budget.",
		},
	)
	generationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_generation_attempts_total",
			Help: "Total number of SQL generation attempts by outcome.",
		},
		[]string{"outcome"},
	)
	validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_validations_total",
			Help: "Total number of SQL validations by level and outcome.",
		},
		[]string{"level", "outcome"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_executions_total",
			Help: "Total number of query executions by outcome.",
		},
		[]string{"outcome"},
	)
	executionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragsql_execution_latency_ms",
			Help:    "Warehouse execution latency in milliseconds.",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000, 300000},
		},
	)
	bytesProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragsql_bytes_processed_total",
			Help: "Total bytes processed by executed queries.",
		},
	)
	bytesBilledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragsql_bytes_billed_total",
			Help: "Total bytes billed for executed queries.",
		},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_result_cache_lookups_total",
			Help: "Total number of result cache lookups by result.",
		},
		[]string{"result"},
	)
	indexRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_index_rebuilds_total",
			Help: "Total number of example index rebuilds by outcome.",
		},
		[]string{"outcome"},
	)
	indexRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragsql_index_records",
			Help: "Number of examples in the live index snapshot.",
		},
	)
	indexVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragsql_index_version",
			Help: "Version of the live index snapshot.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		retrievalsTotal,
		retrievalLatencyMs,
		assembledTokens,
		budgetExceededTotal,
		generationAttemptsTotal,
		validationsTotal,
		executionsTotal,
		executionLatencyMs,
		bytesProcessedTotal,
		bytesBilledTotal,
		cacheLookupsTotal,
		indexRebuildsTotal,
		indexRecords,
		indexVersion,
	)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}

func ObserveRetrieval(elapsed time.Duration, err error) {
	retrievalsTotal.WithLabelValues(outcome(err)).Inc()
	retrievalLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveAssembly(tokens int, err error) {
	if err != nil {
		budgetExceededTotal.Inc()
		return
	}

	assembledTokens.Observe(float64(tokens))
}

func ObserveGenerationAttempt(err error) {
	generationAttemptsTotal.WithLabelValues(outcome(err)).Inc()
}

func ObserveValidation(level string, valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}

	validationsTotal.WithLabelValues(level, result).Inc()
}

// ObserveExecution records one executor call. outcome is a short label such as
// "ok", "cache_hit", "dry_run" or an error reason.
func ObserveExecution(outcome string, elapsed time.Duration, bytesProcessed, bytesBilled int64) {
	executionsTotal.WithLabelValues(outcome).Inc()

	if elapsed > 0 {
		executionLatencyMs.Observe(float64(elapsed.Milliseconds()))
	}

	if bytesProcessed > 0 {
		bytesProcessedTotal.Add(float64(bytesProcessed))
	}

	if bytesBilled > 0 {
		bytesBilledTotal.Add(float64(bytesBilled))
	}
}

func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	cacheLookupsTotal.WithLabelValues(result).Inc()
}

func ObserveIndexRebuild(records int, version int64, err error) {
	indexRebuildsTotal.WithLabelValues(outcome(err)).Inc()

	if err == nil {
		SetIndexState(records, version)
	}
}

func SetIndexState(records int, version int64) {
	indexRecords.Set(float64(records))
	indexVersion.Set(float64(version))
}

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is canceled
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}
