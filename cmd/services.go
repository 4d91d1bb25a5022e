package cmd

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/kyleking/ragsql/internal/cache"
	"github.com/kyleking/ragsql/internal/catalog"
	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/embedding"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/executor"
	"github.com/kyleking/ragsql/internal/index"
	"github.com/kyleking/ragsql/internal/llm"
	"github.com/kyleking/ragsql/internal/logging"
	"github.com/kyleking/ragsql/internal/pipeline"
	"github.com/kyleking/ragsql/internal/storage"
	"github.com/kyleking/ragsql/internal/warehouse"
)

// services opens the long-lived dependencies a command needs on first use and
// closes whatever was opened
type services struct {
	cfg *config.Config

	store     *storage.DuckDBStore
	embedder  *embedding.Manager
	index     *index.Index
	warehouse *warehouse.SQLClient
	catalogs  *catalog.Store
	results   cache.Cache
	executor  *executor.Executor
}

func newServices(cfg *config.Config) *services {
	return &services{cfg: cfg}
}

// servicesFromContext wraps the configuration loaded by the root command
func servicesFromContext(ctx context.Context) (*services, error) {
	cfg := getConfigFromContext(ctx)
	if cfg == nil {
		return nil, errors.NewConfigError("no configuration loaded", "")
	}

	return newServices(cfg), nil
}

// Store opens the example index database. With mustExist a missing file is an
// error instead of an empty new store.
func (s *services) Store(ctx context.Context, mustExist bool) (*storage.DuckDBStore, error) {
	if s.store != nil {
		return s.store, nil
	}

	store, err := storage.NewDuckDBStoreFromConfig(&s.cfg.Database, mustExist)
	if err != nil {
		if stderrors.Is(err, storage.ErrNoIndex) {
			return nil, errors.Wrap(err, errors.ErrTypeIndex, "example index not found").
				WithSuggestion("Run 'ragsql index --corpus <path>' to build it")
		}

		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open example index database")
	}

	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to initialize example index schema")
	}

	s.store = store

	return store, nil
}

// Embedder builds the configured embedding provider behind a batching manager
func (s *services) Embedder() (*embedding.Manager, error) {
	if s.embedder != nil {
		return s.embedder, nil
	}

	provider, err := embedding.NewProvider(s.cfg.Embedding)
	if err != nil {
		return nil, err
	}

	s.embedder = embedding.NewManager(provider,
		config.Duration(s.cfg.Retrieval.EmbedTimeout, index.DefaultEmbedTimeout),
		s.cfg.Embedding.BatchSize, s.cfg.Embedding.MaxWorkers)

	return s.embedder, nil
}

// Index returns the example index. With load the persisted snapshot must
// exist; without it the index starts empty, ready for a rebuild.
func (s *services) Index(ctx context.Context, load bool) (*index.Index, error) {
	if s.index != nil {
		return s.index, nil
	}

	store, err := s.Store(ctx, load)
	if err != nil {
		return nil, err
	}

	embedder, err := s.Embedder()
	if err != nil {
		return nil, err
	}

	opts, err := index.OptionsFromConfig(s.cfg.Retrieval, s.cfg.Embedding.Model)
	if err != nil {
		return nil, err
	}

	ix := index.New(embedder, store, opts)

	if load {
		if err := ix.Load(ctx); err != nil {
			return nil, err
		}
	}

	s.index = ix

	return ix, nil
}

// Warehouse connects to the configured warehouse
func (s *services) Warehouse() (*warehouse.SQLClient, error) {
	if s.warehouse != nil {
		return s.warehouse, nil
	}

	client, err := warehouse.NewClient(s.cfg.Warehouse, s.cfg.Execution.MaxRows)
	if err != nil {
		return nil, err
	}

	s.warehouse = client

	return client, nil
}

// Catalog loads the schema catalog from the configured source
func (s *services) Catalog(ctx context.Context) (*catalog.Store, error) {
	if s.catalogs != nil {
		return s.catalogs, nil
	}

	var source catalog.Source

	if s.cfg.Schema.Source == "" || s.cfg.Schema.Source == "warehouse" {
		client, err := s.Warehouse()
		if err != nil {
			return nil, err
		}

		source = catalog.SQLSource{DB: client.DB(), Label: "warehouse:" + client.Dialect()}
	} else {
		var err error

		source, err = catalog.SourceFromConfig(s.cfg.Schema.Source, s.cfg.Schema.Path)
		if err != nil {
			return nil, errors.NewConfigError(err.Error(), "schema.source")
		}
	}

	store, err := catalog.NewStore(ctx, source)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeConfig, "failed to load schema catalog from %s", source.Name())
	}

	logging.Debugf("schema catalog loaded from %s: %d tables", source.Name(), store.Current().Len())
	s.catalogs = store

	return store, nil
}

// ResultCache opens the configured result cache
func (s *services) ResultCache(ctx context.Context) (cache.Cache, error) {
	if s.results != nil {
		return s.results, nil
	}

	results, err := cache.New(ctx, s.cfg.Cache)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to open result cache")
	}

	s.results = results

	return results, nil
}

// Executor builds the warehouse executor with the result cache
func (s *services) Executor(ctx context.Context) (*executor.Executor, error) {
	if s.executor != nil {
		return s.executor, nil
	}

	client, err := s.Warehouse()
	if err != nil {
		return nil, err
	}

	results, err := s.ResultCache(ctx)
	if err != nil {
		return nil, err
	}

	s.executor = executor.New(client, results, executor.OptionsFromConfig(s.cfg.Execution, s.cfg.Cache))

	return s.executor, nil
}

// Pipeline wires retrieval, assembly, generation and validation. The executor
// is attached only when withExecutor is set.
func (s *services) Pipeline(ctx context.Context, withExecutor bool) (*pipeline.Pipeline, error) {
	ix, err := s.Index(ctx, true)
	if err != nil {
		return nil, err
	}

	catalogs, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	generator, err := llm.NewManagerFromConfig(s.cfg.LLM)
	if err != nil {
		return nil, err
	}

	defaults, err := pipeline.OptionsFromConfig(s.cfg)
	if err != nil {
		return nil, err
	}

	var exec pipeline.Executor

	if withExecutor {
		e, err := s.Executor(ctx)
		if err != nil {
			return nil, err
		}

		exec = e
	}

	return pipeline.New(ix, catalogs, generator, exec, defaults), nil
}

// Close releases everything opened so far
func (s *services) Close() error {
	var errs []error

	if s.results != nil {
		errs = append(errs, s.results.Close())
	}

	if s.warehouse != nil {
		errs = append(errs, s.warehouse.Close())
	}

	if s.store != nil {
		errs = append(errs, s.store.Close())
	}

	if err := stderrors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close resources: %w", err)
	}

	return nil
}
