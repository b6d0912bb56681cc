package formatter

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlrag/internal/pipeline"
	"github.com/kyleking/sqlrag/internal/repair"
	"github.com/kyleking/sqlrag/internal/testutil"
	"github.com/kyleking/sqlrag/internal/validator"
)

const salesSQL = "SELECT customer_id, SUM(total) FROM orders GROUP BY customer_id"

func repairedAnswer() *pipeline.Answer {
	return &pipeline.Answer{
		RequestID:   "req-1",
		Question:    "total sales by customer",
		SQL:         salesSQL,
		Tables:      []string{"orders"},
		Retrieved:   []string{"orders", "customers"},
		Template:    "sql-only",
		Attempts:    2,
		Model:       "ollama:llama3.1",
		CatalogHash: "0123456789abcdef0123",
		Duration:    1234 * time.Millisecond,
		Trail: []repair.Attempt{
			{
				Number: 1,
				SQL:    "SELECT cust_id FROM orders",
				States: []repair.State{repair.StateGenerated, repair.StateParsing, repair.StateSyntaxValid, repair.StateSchemaChecking, repair.StateSchemaInvalid},
				Outcome: validator.Outcome{
					Stage:      validator.StageSchema,
					Reason:     `column "cust_id" does not exist on orders`,
					Reference:  "cust_id",
					Suggestion: "customer_id",
				},
			},
			{
				Number:  2,
				SQL:     salesSQL,
				States:  []repair.State{repair.StateGenerated, repair.StateParsing, repair.StateSyntaxValid, repair.StateSchemaChecking, repair.StateAccepted},
				Outcome: validator.Outcome{Valid: true, Tables: []string{"orders"}},
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]OutputFormat{
		"long":  FormatLong,
		" JSON": FormatJSON,
		"short": FormatShort,
		"":      FormatShort,
		"table": FormatShort,
	}

	for in, want := range tests {
		assert.Equal(t, want, ParseFormat(in), in)
	}
}

func TestFormatter_FormatAnswer(t *testing.T) {
	f := NewFormatter()
	answer := repairedAnswer()

	t.Run("short is only SQL", func(t *testing.T) {
		assert.Equal(t, salesSQL, f.FormatAnswer(answer, FormatShort))
	})

	t.Run("long includes provenance and repairs", func(t *testing.T) {
		out := f.FormatAnswer(answer, FormatLong)

		for _, want := range []string{
			salesSQL,
			"Question: total sales by customer",
			"Tables: orders",
			"Retrieved: orders, customers",
			"Attempts: 2",
			"Model: ollama:llama3.1",
			"Catalog: 0123456789ab",
			"Duration: 1.234s",
			"Repairs:",
			"  1. schema_invalid: column \"cust_id\" does not exist on orders",
			"did you mean customer_id instead of cust_id?",
			"  2. accepted",
		} {
			assert.Contains(t, out, want)
		}

		assert.NotContains(t, out, "Dropped for budget")
	})

	t.Run("first-try answers omit repairs", func(t *testing.T) {
		single := *answer
		single.Attempts = 1
		single.Trail = answer.Trail[1:]
		single.Dropped = []string{"warehouses"}

		out := f.FormatAnswer(&single, FormatLong)
		assert.NotContains(t, out, "Repairs:")
		assert.Contains(t, out, "Dropped for budget: warehouses")
	})

	t.Run("json round trips", func(t *testing.T) {
		var decoded pipeline.Answer
		require.NoError(t, json.Unmarshal([]byte(f.FormatAnswer(answer, FormatJSON)), &decoded))
		assert.Equal(t, answer.SQL, decoded.SQL)
		assert.Len(t, decoded.Trail, 2)
	})
}

func TestFormatter_FormatRejection(t *testing.T) {
	f := NewFormatter()

	rejection := &repair.Rejection{
		Question: "items per order",
		LastSQL:  "SELECT quantity FROM order_items",
		Attempts: 2,
		Trail: []repair.Attempt{
			{
				Number: 1,
				States: []repair.State{repair.StateGenerated, repair.StateSchemaInvalid},
				Outcome: validator.Outcome{
					Reason:      `relation "order_items" does not exist`,
					Reference:   "order_items",
					Suggestion:  "orders",
					OwnerTables: []string{"orders"},
				},
			},
			{
				Number: 2,
				States: []repair.State{repair.StateGenerationEmpty, repair.StateRejected},
				Error:  "no SQL statement in response",
			},
		},
	}

	short := f.FormatRejection(rejection, FormatShort)
	assert.True(t, strings.HasPrefix(short, "No valid SQL after 2 attempt(s) for: items per order"))
	assert.Contains(t, short, "did you mean orders instead of order_items?")
	assert.Contains(t, short, "column exists on: orders")
	assert.Contains(t, short, "  2. rejected: no SQL statement in response")
	assert.NotContains(t, short, "Last candidate:")

	long := f.FormatRejection(rejection, FormatLong)
	assert.Contains(t, long, "Last candidate:\nSELECT quantity FROM order_items")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.FormatRejection(rejection, FormatJSON)), &decoded))
	assert.Equal(t, "items per order", decoded["question"])
}

func TestFormatter_FormatRefresh(t *testing.T) {
	f := NewFormatter()

	res := &pipeline.RefreshResult{
		CatalogHash: "abcdef0123456789",
		Provider:    "local:hash-512",
		Tables:      4,
		Units:       4,
		Source:      "embedded",
		Changed:     true,
		Duration:    250 * time.Millisecond,
	}

	assert.Equal(t, "Index updated: 4 tables, 4 units, catalog abcdef012345 (source: embedded, 250ms)", f.FormatRefresh(res, FormatShort))
	assert.Contains(t, f.FormatRefresh(res, FormatLong), "Provider: local:hash-512")

	res.Changed = false
	assert.Contains(t, f.FormatRefresh(res, FormatShort), "Index unchanged")
}

func TestFormatter_FormatTable(t *testing.T) {
	f := NewFormatter()
	tbl := testutil.OrdersTable()

	assert.Equal(t, "orders (id, customer_id, total)", f.FormatTable(tbl, FormatShort))

	long := f.FormatTable(tbl, FormatLong)
	assert.Contains(t, long, "  id integer  (primary key)")
	assert.Contains(t, long, "  customer_id integer  (references customers.id)")
	assert.Contains(t, long, "  total numeric")
}

func TestFormatter_FormatSnapshot(t *testing.T) {
	f := NewFormatter()
	assert.Equal(t, "No index loaded", f.FormatSnapshot(nil, FormatShort))
}

func TestFormatter_HumanizeAge(t *testing.T) {
	now := time.Date(2024, 9, 14, 12, 0, 0, 0, time.UTC)
	f := &Formatter{now: func() time.Time { return now }}

	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{time.Minute, "1 minute ago"},
		{5 * time.Minute, "5 minutes ago"},
		{time.Hour, "1 hour ago"},
		{3 * time.Hour, "3 hours ago"},
		{24 * time.Hour, "1 day ago"},
		{10 * 24 * time.Hour, "10 days ago"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, f.humanizeAge(now.Add(-tt.ago)), tt.ago.String())
	}

	assert.Equal(t, "?", f.humanizeAge(time.Time{}))
}
