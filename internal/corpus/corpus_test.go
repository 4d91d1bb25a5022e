package corpus

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/embedding"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/testutil"
	"github.com/kyleking/ragsql/internal/types"
)

const jsonCorpus = `[
  {"id": "revenue", "description": "Revenue per region",
   "sql": "SELECT region, SUM(total) FROM shop.orders GROUP BY region",
   "tables": ["shop.orders"],
   "joins": [{"left_table": "shop.orders", "left_column": "customer_id", "right_table": "shop.customers", "right_column": "id", "kind": "inner"}]}
]`

const yamlCorpus = `examples:
  - id: skus
    description: Items sold per sku
    sql: SELECT sku, SUM(qty) FROM shop.order_items GROUP BY sku
    tables: [shop.order_items]
  - id: recent
    sql: SELECT * FROM shop.orders ORDER BY created_at DESC LIMIT 10
    tables: [shop.orders]
    embedding: [0.1, 0.2]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

func TestDecode(t *testing.T) {
	records, err := Decode("a.json", []byte(jsonCorpus))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "revenue", records[0].ID)
	assert.Equal(t, []string{"shop.orders"}, records[0].ReferencedTables)
	require.Len(t, records[0].Joins, 1)
	assert.Equal(t, "customer_id", records[0].Joins[0].LeftColumn)

	records, err = Decode("b.yaml", []byte(yamlCorpus))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "skus", records[0].ID)
	assert.Equal(t, []float32{0.1, 0.2}, records[1].Embedding)

	wrapped, err := Decode("c.json", []byte(`{"examples": [{"id": "x", "sql": "SELECT 1"}]}`))
	require.NoError(t, err)
	assert.Len(t, wrapped, 1)

	list, err := Decode("d.yml", []byte("- id: y\n  sql: SELECT 2\n"))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	empty, err := Decode("e.json", []byte("  "))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Decode("f.csv", []byte("id,sql"))
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = Decode("g.json", []byte(`[{"id": 1`))
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestLoadPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b/shop.yaml", yamlCorpus)
	writeFile(t, dir, "a.json", jsonCorpus)
	writeFile(t, dir, "README.md", "# not a corpus")

	records, err := LoadPath(context.Background(), dir)
	require.NoError(t, err)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}

	assert.Equal(t, []string{"revenue", "skus", "recent"}, ids, "files are read in lexical order")

	single, err := LoadPath(context.Background(), filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = LoadPath(context.Background(), filepath.Join(dir, "missing.json"))
	assert.True(t, errors.IsType(err, errors.ErrTypeFileSystem))
}

func TestLoadPathRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", jsonCorpus)
	writeFile(t, dir, "b.json", jsonCorpus)

	_, err := LoadPath(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate corpus example id "revenue"`)
}

func TestMerge(t *testing.T) {
	_, err := Merge([]types.ExampleRecord{{ID: " ", SQLText: "SELECT 1"}})
	assert.ErrorContains(t, err, "has no id")

	_, err = Merge([]types.ExampleRecord{{ID: "a"}})
	assert.ErrorContains(t, err, "has no sql")

	out, err := Merge([]types.ExampleRecord{{ID: " a ", SQLText: "SELECT 1"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", out[0].ID)
}

func TestLoadRequiresPath(t *testing.T) {
	_, err := Load(context.Background(), config.CorpusConfig{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://corpora/shop/examples.yaml")
	require.NoError(t, err)
	assert.Equal(t, "corpora", bucket)
	assert.Equal(t, "shop/examples.yaml", key)

	bucket, key, err = parseS3URL("s3://corpora")
	require.NoError(t, err)
	assert.Equal(t, "corpora", bucket)
	assert.Empty(t, key)

	_, _, err = parseS3URL("s3:///nobucket")
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("https://minio.internal:9000", false)
	require.NoError(t, err)
	assert.Equal(t, "minio.internal:9000", host)
	assert.True(t, secure)

	host, secure, err = parseEndpoint("localhost:9000", false)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)

	_, _, err = parseEndpoint(" ", false)
	assert.Error(t, err)
}

type fakeObjects struct {
	objects map[string]string
	gets    []string
}

func (f *fakeObjects) List(_ context.Context, bucket, prefix string) ([]string, error) {
	var keys []string

	for k := range f.objects {
		if strings.HasPrefix(k, bucket+"/"+prefix) {
			keys = append(keys, strings.TrimPrefix(k, bucket+"/"))
		}
	}

	return keys, nil
}

func (f *fakeObjects) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.gets = append(f.gets, key)

	body, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, ErrObjectNotFound
	}

	return io.NopCloser(strings.NewReader(body)), nil
}

func TestS3Loader(t *testing.T) {
	client := &fakeObjects{objects: map[string]string{
		"corpora/shop/2.yaml":   yamlCorpus,
		"corpora/shop/1.json":   jsonCorpus,
		"corpora/shop/notes.md": "ignored",
		"corpora/other/x.json":  `[{"id": "x", "sql": "SELECT 1"}]`,
	}}
	loader := &S3Loader{client: client}

	records, err := loader.Load(context.Background(), "corpora", "shop/")
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, []string{"shop/1.json", "shop/2.yaml"}, client.gets)

	records, err = loader.Load(context.Background(), "corpora", "other/x.json")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = loader.Load(context.Background(), "corpora", "shop/missing.json")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = loader.Load(context.Background(), "corpora", "empty/")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestEmbed(t *testing.T) {
	manager := embedding.NewManager(embedding.NewHashProvider(testutil.TestDimensions), 0, 2, 2)

	records := []types.ExampleRecord{
		testutil.NewTestExample("kept"),
		testutil.NewTestExample("missing", testutil.WithEmbedding()),
		testutil.NewTestExample("wrong-width", testutil.WithEmbedding(1, 0)),
	}

	out, n, err := Embed(context.Background(), manager, records, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, records[0].Embedding, out[0].Embedding)
	assert.Len(t, out[1].Embedding, testutil.TestDimensions)
	assert.Len(t, out[2].Embedding, testutil.TestDimensions)
	assert.Len(t, records[2].Embedding, 2, "input is not modified")

	forced, n, err := Embed(context.Background(), manager, records, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NotEqual(t, records[0].Embedding, forced[0].Embedding)
}
