// Package index retrieves the examples most similar to a question. Readers see
// an immutable snapshot; rebuilds construct a new snapshot and swap it in.
package index

import (
	"cmp"
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/logging"
	"github.com/kyleking/ragsql/internal/metrics"
	"github.com/kyleking/ragsql/internal/storage"
	"github.com/kyleking/ragsql/internal/types"
)

type (
	ExampleRecord = types.ExampleRecord
	JoinSpec      = types.JoinSpec
)

// MaxK is the largest number of examples a single retrieval may request
const MaxK = 200

// DefaultEmbedTimeout bounds question embedding when no timeout is configured
const DefaultEmbedTimeout = 15 * time.Second

// ErrRebuildInProgress is returned to a caller that tries to rebuild while
// another rebuild is running
var ErrRebuildInProgress = stderrors.New("index rebuild already in progress")

// Distance selects how vectors are compared
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceL2     Distance = "l2"
)

// Hit is one retrieved example with its blended score and the parts it was
// blended from
type Hit struct {
	Record       ExampleRecord `json:"record"`
	Score        float64       `json:"score"`
	VectorScore  float64       `json:"vector_score"`
	LexicalScore float64       `json:"lexical_score"`
}

// RetrievalResult is ordered by non-increasing score
type RetrievalResult []Hit

// Records returns the retrieved examples in rank order
func (r RetrievalResult) Records() []ExampleRecord {
	out := make([]ExampleRecord, len(r))
	for i, h := range r {
		out[i] = h.Record
	}

	return out
}

// Embedder turns a question into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Store persists built snapshots
type Store interface {
	ReplaceExamples(ctx context.Context, records []types.ExampleRecord, meta storage.IndexMeta) error
	LoadExamples(ctx context.Context) ([]types.ExampleRecord, *storage.IndexMeta, error)
}

// Options configures scoring
type Options struct {
	Distance       Distance
	Hybrid         bool
	VectorWeight   float64
	LexicalWeight  float64
	EmbedTimeout   time.Duration
	EmbeddingModel string
}

// DefaultOptions returns cosine hybrid scoring weighted 0.7/0.3
func DefaultOptions() Options {
	return Options{
		Distance:      DistanceCosine,
		Hybrid:        true,
		VectorWeight:  0.7,
		LexicalWeight: 0.3,
		EmbedTimeout:  DefaultEmbedTimeout,
	}
}

// OptionsFromConfig builds scoring options from retrieval configuration
func OptionsFromConfig(cfg config.RetrievalConfig, embeddingModel string) (Options, error) {
	opts := Options{
		Distance:       Distance(strings.ToLower(cfg.Distance)),
		Hybrid:         cfg.Hybrid,
		VectorWeight:   cfg.VectorWeight,
		LexicalWeight:  cfg.LexicalWeight,
		EmbedTimeout:   config.Duration(cfg.EmbedTimeout, DefaultEmbedTimeout),
		EmbeddingModel: embeddingModel,
	}

	if opts.Distance == "" {
		opts.Distance = DistanceCosine
	}

	if opts.Distance != DistanceCosine && opts.Distance != DistanceL2 {
		return opts, errors.NewConfigError(fmt.Sprintf("unknown distance %q", cfg.Distance), "retrieval.distance")
	}

	if opts.VectorWeight < 0 || opts.LexicalWeight < 0 || opts.VectorWeight+opts.LexicalWeight <= 0 {
		return opts, errors.NewConfigError("retrieval weights must be non-negative and not both zero",
			"retrieval.vector_weight")
	}

	return opts, nil
}

// Snapshot is an immutable view of the index
type Snapshot struct {
	records []ExampleRecord
	docs    []lexicalDoc
	dims    int
	version int64
	builtAt time.Time
}

func newSnapshot(records []ExampleRecord, dims int, version int64, builtAt time.Time) *Snapshot {
	docs := make([]lexicalDoc, len(records))
	for i, rec := range records {
		docs[i] = newLexicalDoc(rec)
	}

	return &Snapshot{
		records: records,
		docs:    docs,
		dims:    dims,
		version: version,
		builtAt: builtAt,
	}
}

// Len returns the number of records in the snapshot
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Version returns the build version
func (s *Snapshot) Version() int64 {
	return s.version
}

// Stats describes the live snapshot
type Stats struct {
	Loaded     bool      `json:"loaded"`
	Records    int       `json:"records"`
	Dimensions int       `json:"dimensions"`
	Version    int64     `json:"version"`
	BuiltAt    time.Time `json:"built_at"`
	Distance   Distance  `json:"distance"`
	Hybrid     bool      `json:"hybrid"`
}

// Index answers top-K queries against the current snapshot
type Index struct {
	embedder Embedder
	store    Store
	opts     Options

	snapshot  atomic.Pointer[Snapshot]
	rebuildMu sync.Mutex
}

// New creates an empty index. Call Load or Rebuild before Retrieve.
func New(embedder Embedder, store Store, opts Options) *Index {
	if opts.Distance == "" {
		opts.Distance = DistanceCosine
	}

	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultEmbedTimeout
	}

	return &Index{embedder: embedder, store: store, opts: opts}
}

// Load reads the persisted index. A missing, corrupt or empty store is fatal.
func (ix *Index) Load(ctx context.Context) error {
	records, meta, err := ix.store.LoadExamples(ctx)

	switch {
	case stderrors.Is(err, storage.ErrNoIndex):
		return errors.Wrap(err, errors.ErrTypeIndex, "example index has not been built").
			WithSuggestion("Run 'ragsql index' to build it from the example corpus")
	case stderrors.Is(err, storage.ErrCorruptIndex):
		return errors.Wrap(err, errors.ErrTypeIndex, "example index is corrupt").
			WithSuggestion("Rebuild it with 'ragsql index'")
	case err != nil:
		return errors.Wrap(err, errors.ErrTypeIndex, "failed to load example index")
	}

	if len(records) == 0 {
		return errors.New(errors.ErrTypeIndex, "example index is empty").
			WithSuggestion("Rebuild it from a non-empty corpus with 'ragsql index'")
	}

	if dims := ix.embedder.Dimensions(); dims != meta.Dimensions {
		return errors.Newf(errors.ErrTypeIndex,
			"example index has %d dimensions but the embedding provider produces %d", meta.Dimensions, dims).
			WithSuggestion("Rebuild the index with the configured embedding provider")
	}

	snap := newSnapshot(records, meta.Dimensions, meta.Version, meta.BuiltAt)
	ix.snapshot.Store(snap)
	metrics.SetIndexState(snap.Len(), snap.version)

	logging.WithFields(map[string]interface{}{
		"records": snap.Len(),
		"version": snap.version,
	}).Debug("example index loaded")

	return nil
}

// Rebuild validates records, persists them as a new index version and swaps
// the new snapshot in. Concurrent rebuilds fail with ErrRebuildInProgress;
// retrievals continue against the previous snapshot throughout.
func (ix *Index) Rebuild(ctx context.Context, records []ExampleRecord) (err error) {
	if !ix.rebuildMu.TryLock() {
		return errors.Wrap(ErrRebuildInProgress, errors.ErrTypeIndex, "cannot rebuild example index")
	}
	defer ix.rebuildMu.Unlock()

	var snap *Snapshot

	defer func() {
		if snap != nil {
			metrics.ObserveIndexRebuild(snap.Len(), snap.version, err)
		} else {
			metrics.ObserveIndexRebuild(0, 0, err)
		}
	}()

	prepared, dims, err := ix.prepare(records)
	if err != nil {
		return err
	}

	version := int64(1)
	if current := ix.snapshot.Load(); current != nil {
		version = current.version + 1
	}

	builtAt := time.Now().UTC().Truncate(time.Second)

	meta := storage.IndexMeta{
		Version:        version,
		RecordCount:    len(prepared),
		Dimensions:     dims,
		Distance:       string(ix.opts.Distance),
		EmbeddingModel: ix.opts.EmbeddingModel,
		BuiltAt:        builtAt,
	}

	if err := ix.store.ReplaceExamples(ctx, prepared, meta); err != nil {
		return errors.Wrap(err, errors.ErrTypeIndex, "failed to persist example index")
	}

	snap = newSnapshot(prepared, dims, version, builtAt)
	ix.snapshot.Store(snap)

	logging.Infof("example index rebuilt: version %d, %d records", version, len(prepared))

	return nil
}

func (ix *Index) prepare(records []ExampleRecord) ([]ExampleRecord, int, error) {
	if len(records) == 0 {
		return nil, 0, errors.New(errors.ErrTypeIndex, "cannot build an empty example index")
	}

	dims := ix.embedder.Dimensions()
	seen := make(map[string]bool, len(records))
	prepared := make([]ExampleRecord, 0, len(records))

	for i, rec := range records {
		switch {
		case strings.TrimSpace(rec.ID) == "":
			return nil, 0, errors.Newf(errors.ErrTypeIndex, "example %d has no id", i)
		case seen[rec.ID]:
			return nil, 0, errors.Newf(errors.ErrTypeIndex, "duplicate example id %q", rec.ID)
		case strings.TrimSpace(rec.SQLText) == "":
			return nil, 0, errors.Newf(errors.ErrTypeIndex, "example %q has no SQL", rec.ID)
		case len(rec.Embedding) == 0:
			return nil, 0, errors.Newf(errors.ErrTypeIndex, "example %q has no embedding", rec.ID)
		case len(rec.Embedding) != dims:
			return nil, 0, errors.Newf(errors.ErrTypeIndex,
				"example %q has %d dimensions, expected %d", rec.ID, len(rec.Embedding), dims)
		}

		seen[rec.ID] = true

		c := rec.Clone()
		c.NormalizeTables()
		prepared = append(prepared, c)
	}

	return prepared, dims, nil
}

// Retrieve returns the k examples most similar to question. Embedding failures
// fail the retrieval rather than returning an empty result.
func (ix *Index) Retrieve(ctx context.Context, question string, k int) (result RetrievalResult, err error) {
	start := time.Now()

	defer func() {
		metrics.ObserveRetrieval(time.Since(start), err)
	}()

	if k < 1 || k > MaxK {
		return nil, errors.Newf(errors.ErrTypeValidation, "k must be between 1 and %d, got %d", MaxK, k)
	}

	if strings.TrimSpace(question) == "" {
		return nil, errors.New(errors.ErrTypeValidation, "question is empty")
	}

	snap := ix.snapshot.Load()
	if snap == nil {
		return nil, errors.New(errors.ErrTypeIndex, "example index is not loaded")
	}

	embedCtx, cancel := context.WithTimeout(ctx, ix.opts.EmbedTimeout)
	defer cancel()

	query, err := ix.embedder.Embed(embedCtx, question)
	if err != nil {
		return nil, errors.NewRetrievalError(err, "failed to embed question")
	}

	if len(query) != snap.dims {
		return nil, errors.NewRetrievalError(nil,
			fmt.Sprintf("question embedding has %d dimensions, index has %d", len(query), snap.dims))
	}

	return ix.rank(snap, question, query, k), nil
}

func (ix *Index) rank(snap *Snapshot, question string, query []float32, k int) RetrievalResult {
	vectorWeight, lexicalWeight := 1.0, 0.0
	if ix.opts.Hybrid {
		sum := ix.opts.VectorWeight + ix.opts.LexicalWeight
		vectorWeight = ix.opts.VectorWeight / sum
		lexicalWeight = ix.opts.LexicalWeight / sum
	}

	terms := queryTerms(question)
	hits := make([]Hit, len(snap.records))

	for i, rec := range snap.records {
		h := Hit{
			Record:      rec,
			VectorScore: vectorScore(ix.opts.Distance, query, rec.Embedding),
		}

		if lexicalWeight > 0 {
			h.LexicalScore = snap.docs[i].score(terms)
		}

		h.Score = vectorWeight*h.VectorScore + lexicalWeight*h.LexicalScore
		hits[i] = h
	}

	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}

		return cmp.Compare(a.Record.ID, b.Record.ID)
	})

	if len(hits) > k {
		hits = hits[:k]
	}

	return hits
}

// Stats reports on the live snapshot
func (ix *Index) Stats() Stats {
	stats := Stats{Distance: ix.opts.Distance, Hybrid: ix.opts.Hybrid}

	snap := ix.snapshot.Load()
	if snap == nil {
		return stats
	}

	stats.Loaded = true
	stats.Records = snap.Len()
	stats.Dimensions = snap.dims
	stats.Version = snap.version
	stats.BuiltAt = snap.builtAt

	return stats
}

// Get returns the indexed example with id from the live snapshot
func (ix *Index) Get(id string) (ExampleRecord, bool) {
	snap := ix.snapshot.Load()
	if snap == nil {
		return ExampleRecord{}, false
	}

	for _, rec := range snap.records {
		if rec.ID == id {
			return rec, true
		}
	}

	return ExampleRecord{}, false
}
