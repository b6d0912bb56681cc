package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/repair"
)

const salesSQL = "SELECT customer_id, SUM(total) FROM orders GROUP BY customer_id"

const tblsSchema = `{
  "name": "shop",
  "tables": [
    {
      "name": "public.orders",
      "type": "BASE TABLE",
      "columns": [
        {"name": "id", "type": "integer", "nullable": false},
        {"name": "customer_id", "type": "integer", "nullable": false},
        {"name": "total", "type": "numeric", "nullable": true}
      ]
    }
  ],
  "relations": [],
  "driver": {"name": "postgres"}
}`

// ollamaStub answers every generate call with reply and counts the calls
func ollamaStub(t *testing.T, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/generate", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"response": reply, "done": true})
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

// isolate points every configurable path at a temp dir and the model at llmURL
func isolate(t *testing.T, llmURL string) string {
	t.Helper()

	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(tblsSchema), 0600))

	t.Setenv("SQLRAG_CONFIG", filepath.Join(dir, "missing.json"))
	t.Setenv("DB_DRIVER", "tbls")
	t.Setenv("DB_PATH", schemaPath)
	t.Setenv("SQLRAG_INDEX_PATH", filepath.Join(dir, "index.duckdb"))
	t.Setenv("SQLRAG_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("SQLRAG_EMBEDDING_PROVIDER", "hash")
	t.Setenv("SQLRAG_LLM_PROVIDER", "ollama")
	t.Setenv("SQLRAG_LLM_BASE_URL", llmURL)
	t.Setenv("SQLRAG_LOG_LEVEL", "error")

	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer

	app := NewApp()
	app.Writer = &buf
	app.ErrWriter = &buf

	err := app.Run(context.Background(), append([]string{"sqlrag"}, args...))

	return buf.String(), err
}

func TestHelpAndVersionRun(t *testing.T) {
	var out string
	var err error

	require.NotPanics(t, func() { out, err = run(t, "--help") })
	require.NoError(t, err)
	assert.Contains(t, out, "ask")
	assert.Contains(t, out, "--verbose")

	Version = "1.2.3"
	t.Cleanup(func() { Version = "dev" })

	require.NotPanics(t, func() { out, err = run(t, "--version") })
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3")
}

func TestAskCommandPrintsValidatedSQL(t *testing.T) {
	srv, calls := ollamaStub(t, "```sql\n"+salesSQL+";\n```")
	isolate(t, srv.URL)

	out, err := run(t, "ask", "--quiet", "total sales by customer")
	require.NoError(t, err)

	assert.Equal(t, salesSQL+"\n", out)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAskCommandLongFormat(t *testing.T) {
	srv, _ := ollamaStub(t, salesSQL)
	isolate(t, srv.URL)

	out, err := run(t, "ask", "--quiet", "--format", "long", "total", "sales")
	require.NoError(t, err)

	assert.Contains(t, out, "Question: total sales")
	assert.Contains(t, out, "Tables: orders")
	assert.Contains(t, out, "Attempts: 1")
}

func TestAskCommandReportsRejection(t *testing.T) {
	srv, calls := ollamaStub(t, "SELECT quantity FROM order_items")
	isolate(t, srv.URL)

	out, err := run(t, "ask", "--quiet", "items per order")
	require.Error(t, err)

	var rejection *repair.Rejection
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, 3, rejection.Attempts)
	assert.Equal(t, int32(3), calls.Load())

	assert.Contains(t, out, "No valid SQL after 3 attempt(s) for: items per order")
	assert.Contains(t, out, "did you mean orders instead of order_items?")
	assert.NotContains(t, out, "SELECT quantity")
}

func TestAskCommandRequiresQuestion(t *testing.T) {
	srv, calls := ollamaStub(t, salesSQL)
	isolate(t, srv.URL)

	_, err := run(t, "ask", "--quiet", "  ")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Zero(t, calls.Load())
}

func TestIndexRefreshAndStatus(t *testing.T) {
	srv, _ := ollamaStub(t, salesSQL)
	isolate(t, srv.URL)

	out, err := run(t, "index", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "Index updated: 1 tables, 1 units")
	assert.Contains(t, out, "source: embedded")

	// A new process reuses the stored vectors
	out, err = run(t, "index", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "source: store")

	out, err = run(t, "index", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Snapshots: 1")
	assert.Contains(t, out, "Schema Units: 1")
}

func TestCatalogShow(t *testing.T) {
	srv, _ := ollamaStub(t, salesSQL)
	isolate(t, srv.URL)

	out, err := run(t, "catalog", "show", "--format", "short")
	require.NoError(t, err)
	assert.Equal(t, "orders (id, customer_id, total)\n", out)

	out, err = run(t, "catalog", "show", "ORDERS")
	require.NoError(t, err)
	assert.Contains(t, out, "  customer_id integer")

	_, err = run(t, "catalog", "show", "order_items")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestGlobalFlagsOverrideEnvironment(t *testing.T) {
	srv, _ := ollamaStub(t, salesSQL)
	isolate(t, srv.URL)

	_, err := run(t, "--db-driver", "mysql", "catalog", "show")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	assert.Contains(t, err.Error(), "invalid database driver")
}

func TestConfigCommand(t *testing.T) {
	srv, _ := ollamaStub(t, salesSQL)
	isolate(t, srv.URL)

	out, err := run(t, "config")
	require.NoError(t, err)

	for _, want := range []string{"Active Configuration:", "Driver: tbls", "Provider: ollama", "Max Attempts: 3"} {
		assert.True(t, strings.Contains(out, want), "missing %q in:\n%s", want, out)
	}
}
