package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlrag/internal/cache"
	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/chunker"
	"github.com/kyleking/sqlrag/internal/errors"
)

type countingProvider struct {
	inner   Provider
	calls   atomic.Int32
	failOn  string
	failErr error
}

func (p *countingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)

	if p.failOn != "" && text == p.failOn {
		return nil, p.failErr
	}

	return p.inner.GenerateEmbedding(ctx, text)
}

func (p *countingProvider) GetDimensions() int { return p.inner.GetDimensions() }
func (p *countingProvider) IsEnabled() bool    { return true }
func (p *countingProvider) GetName() string    { return "counting" }

func manyTables(n int) *catalog.Catalog {
	tables := make([]catalog.Table, n)
	for i := range tables {
		tables[i] = catalog.Table{
			Name:    fmt.Sprintf("t%02d", i),
			Columns: []catalog.Column{{Name: "id", Type: "integer"}},
		}
	}

	return catalog.New(tables)
}

func TestEmbedSchema(t *testing.T) {
	p := &countingProvider{inner: NewHashProvider(64)}
	e := NewEmbedder(p, 3)

	result, err := e.EmbedSchema(context.Background(), manyTables(10))
	require.NoError(t, err)

	assert.Len(t, result.Units, 10)
	assert.Len(t, result.Vectors, 10)
	assert.Equal(t, int32(10), p.calls.Load())

	for _, u := range result.Units {
		require.Contains(t, result.Vectors, u.ID)
		assert.Len(t, result.Vectors[u.ID], 64)
	}
}

func TestEmbedSchemaMatchesSequentialResult(t *testing.T) {
	cat := manyTables(8)

	parallel, err := NewEmbedder(NewHashProvider(32), 8).EmbedSchema(context.Background(), cat)
	require.NoError(t, err)

	serial, err := NewEmbedder(NewHashProvider(32), 1).EmbedSchema(context.Background(), cat)
	require.NoError(t, err)

	assert.Equal(t, serial.Vectors, parallel.Vectors)
}

func TestEmbedSchemaEmptyCatalog(t *testing.T) {
	p := &countingProvider{inner: NewHashProvider(8)}

	_, err := NewEmbedder(p, 2).EmbedSchema(context.Background(), catalog.New(nil))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeEmptyCatalog))
	assert.Zero(t, p.calls.Load())
}

func TestEmbedSchemaServiceFailure(t *testing.T) {
	cat := manyTables(3)
	units := chunker.Chunk(cat)

	p := &countingProvider{inner: NewHashProvider(8), failOn: units[1].Text, failErr: fmt.Errorf("connection refused")}

	_, err := NewEmbedder(p, 1).EmbedSchema(context.Background(), cat)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeEmbeddingService))
	assert.Contains(t, err.Error(), "t01")
}

func TestEmbedQuestion(t *testing.T) {
	e := NewEmbedder(NewHashProvider(16), 1)

	vec, err := e.EmbedQuestion(context.Background(), "total sales by customer")
	require.NoError(t, err)
	assert.Len(t, vec, 16)

	_, err = e.EmbedQuestion(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestEmbedQuestionPassesCancellationThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEmbedder(NewHashProvider(16), 1).EmbedQuestion(ctx, "orders")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsType(err, errors.ErrTypeEmbeddingService))
}

func TestEmbedQuestionUsesCache(t *testing.T) {
	fc, err := cache.NewFileCache(t.TempDir(), 1, time.Hour, 0)
	require.NoError(t, err)

	defer fc.Close()

	p := &countingProvider{inner: NewHashProvider(16)}
	e := NewEmbedder(p, 1).WithQuestionCache(cache.NewVectorCache(fc, 0))

	first, err := e.EmbedQuestion(context.Background(), "total sales by customer")
	require.NoError(t, err)

	second, err := e.EmbedQuestion(context.Background(), "Total  sales by customer")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), p.calls.Load())
}
