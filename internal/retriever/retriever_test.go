package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/chunker"
	"github.com/kyleking/sqlrag/internal/embedding"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/index"
)

func shopCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Table{
		{Name: "orders", Columns: []catalog.Column{
			{Name: "id", Type: "integer", PrimaryKey: true, Ordinal: 1},
			{Name: "customer_id", Type: "integer", ForeignKey: true, References: "customers", ReferencesColumn: "id", Ordinal: 2},
			{Name: "total", Type: "numeric", Ordinal: 3},
		}},
		{Name: "customers", Columns: []catalog.Column{
			{Name: "id", Type: "integer", PrimaryKey: true, Ordinal: 1},
			{Name: "name", Type: "text", Ordinal: 2},
		}},
		{Name: "warehouses", Columns: []catalog.Column{
			{Name: "code", Type: "text", PrimaryKey: true, Ordinal: 1},
			{Name: "region", Type: "text", Ordinal: 2},
		}},
		{Name: "shipments", Columns: []catalog.Column{
			{Name: "tracking_number", Type: "text", Ordinal: 1},
			{Name: "carrier", Type: "text", Ordinal: 2},
		}},
	})
}

func buildIndex(t *testing.T, cat *catalog.Catalog) (*index.Index, *embedding.Embedder) {
	t.Helper()

	e := embedding.NewEmbedder(embedding.NewHashProvider(512), 2)

	emb, err := e.EmbedSchema(context.Background(), cat)
	require.NoError(t, err)

	ix, err := index.Build(emb.Units, emb.Vectors, index.Metadata{CatalogHash: cat.Hash()})
	require.NoError(t, err)

	return ix, e
}

func TestRetrieveTotalSalesByCustomer(t *testing.T) {
	cat := shopCatalog()
	ix, e := buildIndex(t, cat)

	q, err := e.EmbedQuestion(context.Background(), "total sales by customer")
	require.NoError(t, err)

	result, err := Retrieve(ix, q, 2)
	require.NoError(t, err)

	require.Len(t, result.Hits, 2)
	assert.True(t, result.Contains("orders"))
	assert.GreaterOrEqual(t, result.Hits[0].Score, result.Hits[1].Score)

	for _, id := range result.TableIDs() {
		_, ok := cat.Table(id)
		assert.True(t, ok, "retrieved unit %s must exist in the catalog", id)
	}
}

func TestRetrieveCapsAtIndexSize(t *testing.T) {
	ix, e := buildIndex(t, shopCatalog())

	q, err := e.EmbedQuestion(context.Background(), "anything")
	require.NoError(t, err)

	result, err := Retrieve(ix, q, 50)
	require.NoError(t, err)
	assert.Len(t, result.Hits, 4)
	assert.Len(t, result.Units(), 4)
}

func TestRetrieveIsDeterministic(t *testing.T) {
	ix, e := buildIndex(t, shopCatalog())

	q, err := e.EmbedQuestion(context.Background(), "where are shipments")
	require.NoError(t, err)

	first, err := Retrieve(ix, q, 3)
	require.NoError(t, err)

	for range 5 {
		again, err := Retrieve(ix, q, 3)
		require.NoError(t, err)
		assert.Equal(t, first.TableIDs(), again.TableIDs())
	}
}

func TestRetrieveTieBreakByTableName(t *testing.T) {
	units := []chunker.SchemaUnit{{ID: "b_table"}, {ID: "a_table"}, {ID: "c_table"}}
	vectors := map[string][]float32{
		"a_table": {1, 0},
		"b_table": {1, 0},
		"c_table": {1, 0},
	}

	ix, err := index.Build(units, vectors, index.Metadata{})
	require.NoError(t, err)

	result, err := Retrieve(ix, []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_table", "b_table"}, result.TableIDs())
}

func TestRetrieveFailures(t *testing.T) {
	ix, _ := buildIndex(t, shopCatalog())

	_, err := Retrieve(ix, make([]float32, 512), 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	empty, err := index.Build(nil, nil, index.Metadata{})
	require.NoError(t, err)

	_, err = Retrieve(empty, []float32{1}, 5)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeEmptyCatalog))

	_, err = Retrieve(nil, []float32{1}, 5)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeEmptyCatalog))
}
