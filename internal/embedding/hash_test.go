package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}

	return sum
}

func TestHashProviderDeterminism(t *testing.T) {
	p := NewHashProvider(256)

	a, err := p.GenerateEmbedding(context.Background(), "Table: orders\n- customer_id integer")
	require.NoError(t, err)

	b, err := p.GenerateEmbedding(context.Background(), "Table: orders\n- customer_id integer")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashProviderDimensionsAndNorm(t *testing.T) {
	p := NewHashProvider(0)
	assert.Equal(t, DefaultHashDimensions, p.GetDimensions())

	vec, err := p.GenerateEmbedding(context.Background(), "total sales by customer")
	require.NoError(t, err)
	require.Len(t, vec, DefaultHashDimensions)
	assert.InDelta(t, 1.0, math.Sqrt(dot(vec, vec)), 1e-5)

	empty, err := p.GenerateEmbedding(context.Background(), "  ")
	require.NoError(t, err)
	assert.Len(t, empty, DefaultHashDimensions)
	assert.Zero(t, dot(empty, empty))
}

func TestHashProviderSimilarity(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider(512)

	cases := []struct {
		name      string
		anchor    string
		similar   string
		unrelated string
	}{
		{
			name:      "orders",
			anchor:    "total sales by customer",
			similar:   "Table: orders\nColumns:\n- id integer\n- customer_id integer\n- total numeric\n",
			unrelated: "Table: warehouses\nColumns:\n- code text\n- region text\n",
		},
		{
			name:      "plurals share features",
			anchor:    "list every product",
			similar:   "Table: products\nColumns:\n- name text\n- price numeric\n",
			unrelated: "Table: employees\nColumns:\n- hired_on date\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			anchor, err := p.GenerateEmbedding(ctx, tc.anchor)
			require.NoError(t, err)

			similar, err := p.GenerateEmbedding(ctx, tc.similar)
			require.NoError(t, err)

			unrelated, err := p.GenerateEmbedding(ctx, tc.unrelated)
			require.NoError(t, err)

			assert.Greater(t, dot(anchor, similar), dot(anchor, unrelated))
		})
	}
}

func TestHashProviderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHashProvider(8).GenerateEmbedding(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t,
		[]string{"total", "sale", "by", "customer"},
		Tokenize("Total sales, by customer?"))

	assert.Equal(t,
		[]string{"customer_id", "customer", "id", "integer"},
		Tokenize("- customer_id integer"))

	assert.Equal(t, []string{"address", "bus"}, Tokenize("address bus"))
}
