package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlrag/internal/cache"
	"github.com/kyleking/sqlrag/internal/chunker"
	"github.com/kyleking/sqlrag/internal/index"
	"github.com/kyleking/sqlrag/internal/storage"
)

func testDump(hash string) index.Dump {
	return index.Dump{
		Metadata: index.Metadata{
			CatalogHash: hash,
			Provider:    "hash:test/2",
			Dimensions:  2,
			BuiltAt:     time.Date(2024, 9, 14, 12, 0, 0, 0, time.UTC),
		},
		Entries: []index.Entry{
			{Unit: chunker.SchemaUnit{ID: "orders", Text: "Table: orders\n"}, Vector: []float32{1, 0}},
			{Unit: chunker.SchemaUnit{ID: "customers", Text: "Table: customers\n"}, Vector: []float32{0, 1}},
		},
	}
}

func TestRunClear(t *testing.T) {
	tests := []struct {
		name      string
		dumps     []index.Dump
		force     bool
		input     string
		remaining int
		contains  []string
	}{
		{
			name:      "force clear with data",
			dumps:     []index.Dump{testDump("aaa"), testDump("bbb")},
			force:     true,
			remaining: 0,
			contains: []string{
				"This will delete:",
				"• 2 snapshots",
				"• 4 schema units",
				"Index cleared successfully.",
			},
		},
		{
			name:      "confirmed",
			dumps:     []index.Dump{testDump("aaa")},
			input:     "yes\n",
			remaining: 0,
			contains:  []string{"Type 'yes' to confirm:", "Index cleared successfully."},
		},
		{
			name:      "declined",
			dumps:     []index.Dump{testDump("aaa")},
			input:     "no\n",
			remaining: 1,
			contains:  []string{"Operation cancelled."},
		},
		{
			name:     "empty index",
			contains: []string{"Index is already empty."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewTestStoreWithSnapshots(t, tt.dumps...)

			var out bytes.Buffer
			err := runClear(ctx, clearIO{in: strings.NewReader(tt.input), out: &out}, tt.force, store, nil)
			require.NoError(t, err)

			for _, want := range tt.contains {
				assert.Contains(t, out.String(), want)
			}

			stats, err := store.GetStats(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.remaining, stats.TotalSnapshots)
		})
	}
}

func TestRunClearEmptiesQuestionCache(t *testing.T) {
	ctx := context.Background()
	store := storage.NewTestStore(t)

	fc, err := cache.NewFileCache(t.TempDir(), 10, time.Hour, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fc.Close() })

	vectors := cache.NewVectorCache(fc, time.Hour)
	vectors.Put(ctx, "hash:test/2", "total sales", []float32{1, 0})

	var out bytes.Buffer
	require.NoError(t, runClear(ctx, clearIO{out: &out}, true, store, fc))
	assert.Contains(t, out.String(), "• 1 cached question vectors")

	_, ok := vectors.Get(ctx, "hash:test/2", "total sales")
	assert.False(t, ok)
}

func TestRunIndexStatus(t *testing.T) {
	store := storage.NewTestStoreWithSnapshots(t, testDump("0123456789abcdef"))

	var out bytes.Buffer
	require.NoError(t, runIndexStatus(context.Background(), &out, store))

	assert.Contains(t, out.String(), "Snapshots: 1")
	assert.Contains(t, out.String(), "Schema Units: 2")
	assert.Contains(t, out.String(), "0123456789ab  hash:test/2")
	assert.Contains(t, out.String(), "used never")
}
