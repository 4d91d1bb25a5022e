// Package corpus loads the example corpus the index is built from. Corpora are
// JSON or YAML files holding a list of examples, read from a local file, a
// local directory, or an S3-compatible bucket.
package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/logging"
	"github.com/kyleking/ragsql/internal/types"
)

// document is the optional wrapper form of a corpus file
type document struct {
	Examples []types.ExampleRecord `json:"examples" yaml:"examples"`
}

// Load reads every example named by cfg.Path
func Load(ctx context.Context, cfg config.CorpusConfig) ([]types.ExampleRecord, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.NewConfigError("corpus path is required", "corpus.path").
			WithSuggestion("Set RAGSQL_CORPUS_PATH or pass --corpus")
	}

	if strings.HasPrefix(path, "s3://") {
		bucket, prefix, err := parseS3URL(path)
		if err != nil {
			return nil, err
		}

		loader, err := NewS3Loader(cfg)
		if err != nil {
			return nil, err
		}

		return loader.Load(ctx, bucket, prefix)
	}

	return LoadPath(ctx, path)
}

// LoadPath reads a corpus file, or every corpus file under a directory in
// lexical order
func LoadPath(ctx context.Context, path string) ([]types.ExampleRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeFileSystem, "cannot read corpus %s", path)
	}

	files := []string{path}

	if info.IsDir() {
		files = nil

		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if !d.IsDir() && IsCorpusFile(p) {
				files = append(files, p)
			}

			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to walk corpus directory %s", path)
		}

		sort.Strings(files)
	}

	var all [][]types.ExampleRecord

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to read corpus file %s", file)
		}

		records, err := Decode(file, data)
		if err != nil {
			return nil, err
		}

		logging.Debugf("loaded %d examples from %s", len(records), file)
		all = append(all, records)
	}

	return Merge(all...)
}

// IsCorpusFile reports whether name has a supported corpus extension
func IsCorpusFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Decode parses one corpus file. Both a bare list of examples and an object
// with an "examples" key are accepted.
func Decode(name string, data []byte) ([]types.ExampleRecord, error) {
	var (
		records []types.ExampleRecord
		err     error
	)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		records, err = decodeJSON(data)
	case ".yaml", ".yml":
		records, err = decodeYAML(data)
	default:
		return nil, errors.Newf(errors.ErrTypeValidation, "unsupported corpus file type: %s", name).
			WithSuggestion("Use .json, .yaml or .yml corpus files")
	}

	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeValidation, "failed to parse corpus file %s", name)
	}

	return records, nil
}

func decodeJSON(data []byte) ([]types.ExampleRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []types.ExampleRecord
		err := json.Unmarshal(trimmed, &records)

		return records, err
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}

	return doc.Examples, nil
}

func decodeYAML(data []byte) ([]types.ExampleRecord, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}

	if len(node.Content) == 0 {
		return nil, nil
	}

	if node.Content[0].Kind == yaml.SequenceNode {
		var records []types.ExampleRecord
		err := node.Content[0].Decode(&records)

		return records, err
	}

	var doc document
	if err := node.Content[0].Decode(&doc); err != nil {
		return nil, err
	}

	return doc.Examples, nil
}

// Merge concatenates batches of examples, rejecting records without an id or
// SQL and ids that appear twice
func Merge(batches ...[]types.ExampleRecord) ([]types.ExampleRecord, error) {
	seen := make(map[string]bool)

	var out []types.ExampleRecord

	for _, batch := range batches {
		for _, rec := range batch {
			rec.ID = strings.TrimSpace(rec.ID)

			switch {
			case rec.ID == "":
				return nil, errors.Newf(errors.ErrTypeValidation,
					"corpus example %d has no id", len(out)+1)
			case strings.TrimSpace(rec.SQLText) == "":
				return nil, errors.Newf(errors.ErrTypeValidation, "corpus example %q has no sql", rec.ID)
			case seen[rec.ID]:
				return nil, errors.Newf(errors.ErrTypeValidation, "duplicate corpus example id %q", rec.ID)
			}

			seen[rec.ID] = true
			out = append(out, rec)
		}
	}

	return out, nil
}

// readAll reads r fully and closes it
func readAll(r io.ReadCloser) ([]byte, error) {
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return data, nil
}
