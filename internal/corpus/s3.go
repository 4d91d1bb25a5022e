package corpus

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/logging"
	"github.com/kyleking/ragsql/internal/types"
)

// ErrObjectNotFound is returned when a corpus bucket or object does not exist
var ErrObjectNotFound = stderrors.New("corpus object not found")

type objectClient interface {
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// S3Loader reads corpus files from an S3-compatible bucket
type S3Loader struct {
	client objectClient
}

// NewS3Loader connects to the endpoint configured in cfg
func NewS3Loader(cfg config.CorpusConfig) (*S3Loader, error) {
	endpoint, secure, err := parseEndpoint(cfg.S3Endpoint, cfg.S3UseSSL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "invalid corpus S3 endpoint")
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.S3Region),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create S3 client")
	}

	return &S3Loader{client: &minioClient{client: mc}}, nil
}

// Load reads the object at key, or every corpus object under key when it names
// a prefix
func (l *S3Loader) Load(ctx context.Context, bucket, key string) ([]types.ExampleRecord, error) {
	var keys []string

	if IsCorpusFile(key) {
		keys = []string{key}
	} else {
		listed, err := l.client.List(ctx, bucket, key)
		if err != nil {
			return nil, s3Error(err, "failed to list corpus objects in s3://%s/%s", bucket, key)
		}

		for _, k := range listed {
			if IsCorpusFile(k) {
				keys = append(keys, k)
			}
		}

		sort.Strings(keys)
	}

	if len(keys) == 0 {
		return nil, errors.Newf(errors.ErrTypeNotFound, "no corpus files found at s3://%s/%s", bucket, key)
	}

	var all [][]types.ExampleRecord

	for _, k := range keys {
		body, err := l.client.Get(ctx, bucket, k)
		if err != nil {
			return nil, s3Error(err, "failed to fetch s3://%s/%s", bucket, k)
		}

		data, err := readAll(body)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeNetwork, "failed to fetch s3://%s/%s", bucket, k)
		}

		records, err := Decode(k, data)
		if err != nil {
			return nil, err
		}

		logging.Debugf("loaded %d examples from s3://%s/%s", len(records), bucket, k)
		all = append(all, records)
	}

	return Merge(all...)
}

func s3Error(err error, format string, args ...interface{}) error {
	if stderrors.Is(err, ErrObjectNotFound) {
		return errors.Wrapf(err, errors.ErrTypeNotFound, format, args...)
	}

	return errors.Wrapf(err, errors.ErrTypeNetwork, format, args...)
}

// parseS3URL splits s3://bucket/key into its bucket and key
func parseS3URL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", errors.NewConfigError(fmt.Sprintf("invalid S3 corpus URL %q", raw), "corpus.path").
			WithSuggestion("Use the form s3://bucket/path/to/corpus")
	}

	key := strings.TrimPrefix(u.Path, "/")
	if key != "" {
		key = path.Clean(key)
	}

	return u.Host, key, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}

		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}

		if parsed.Scheme == "https" {
			return parsed.Host, true, nil
		}

		return parsed.Host, useSSL, nil
	}

	return raw, useSSL, nil
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string

	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, mapMinioErr(obj.Err)
		}

		keys = append(keys, obj.Key)
	}

	return keys, nil
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}

	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}

	return obj, nil
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}

	var response minio.ErrorResponse
	if stderrors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return ErrObjectNotFound
		}
	}

	return err
}
