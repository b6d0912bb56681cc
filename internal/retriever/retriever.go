// Package retriever selects the schema units most relevant to a question.
package retriever

import (
	"github.com/kyleking/sqlrag/internal/chunker"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/index"
	"github.com/kyleking/sqlrag/internal/logging"
)

// DefaultK is the number of units retrieved when the caller does not choose
const DefaultK = 5

// Result is an ordered list of hits, best first
type Result struct {
	Hits []index.Hit `json:"hits"`
}

// Units returns the retrieved units in rank order
func (r Result) Units() []chunker.SchemaUnit {
	units := make([]chunker.SchemaUnit, len(r.Hits))
	for i, h := range r.Hits {
		units[i] = h.Unit
	}

	return units
}

// TableIDs returns the retrieved table IDs in rank order
func (r Result) TableIDs() []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.Unit.ID
	}

	return ids
}

// Contains reports whether a table was retrieved
func (r Result) Contains(tableID string) bool {
	for _, h := range r.Hits {
		if h.Unit.ID == tableID {
			return true
		}
	}

	return false
}

// Retrieve returns the k units closest to the question embedding. An empty
// index fails fast so generation never runs without schema context.
func Retrieve(ix *index.Index, questionEmbedding []float32, k int) (Result, error) {
	if k <= 0 {
		return Result{}, errors.Newf(errors.ErrTypeValidation, "top-k must be positive, got %d", k)
	}

	if ix.IsEmpty() {
		return Result{}, errors.New(errors.ErrTypeEmptyCatalog, "the schema index is empty").
			WithSuggestion("Run 'sqlrag index refresh' after checking the database connection")
	}

	hits, err := ix.Rank(questionEmbedding)
	if err != nil {
		return Result{}, err
	}

	if len(hits) > k {
		hits = hits[:k]
	}

	result := Result{Hits: hits}

	logging.WithFields(map[string]any{
		"k":      k,
		"tables": result.TableIDs(),
	}).Debug("Retrieved schema units")

	return result, nil
}
