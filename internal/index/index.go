// Package index holds embedded schema units in memory and ranks them against
// a query vector. An Index is immutable once built.
package index

import (
	"math"
	"sort"
	"time"

	"github.com/kyleking/sqlrag/internal/chunker"
	"github.com/kyleking/sqlrag/internal/errors"
)

// Metadata identifies what an index was built from
type Metadata struct {
	CatalogHash string    `json:"catalog_hash"`
	Provider    string    `json:"provider"`
	Dimensions  int       `json:"dimensions"`
	BuiltAt     time.Time `json:"built_at"`
}

// Entry pairs a unit with its embedding
type Entry struct {
	Unit   chunker.SchemaUnit `json:"unit"`
	Vector []float32          `json:"vector"`
}

// Hit is a scored entry
type Hit struct {
	Unit  chunker.SchemaUnit `json:"unit"`
	Score float64            `json:"score"`
}

// Dump is the serializable form of an index, used by storage and the mirror
type Dump struct {
	Metadata Metadata `json:"metadata"`
	Entries  []Entry  `json:"entries"`
}

// Index is an immutable set of entries sorted by unit ID
type Index struct {
	meta    Metadata
	entries []Entry
	byID    map[string]int
}

// Build creates an index from units and their vectors. Every unit needs a
// vector and all vectors must share one length.
func Build(units []chunker.SchemaUnit, vectors map[string][]float32, meta Metadata) (*Index, error) {
	entries := make([]Entry, 0, len(units))

	for _, u := range units {
		vec, ok := vectors[u.ID]
		if !ok {
			return nil, errors.Newf(errors.ErrTypeInternal, "no embedding for unit %s", u.ID)
		}

		entries = append(entries, Entry{Unit: u, Vector: vec})
	}

	return newIndex(meta, entries)
}

// FromDump rebuilds an index from its serialized form
func FromDump(d Dump) (*Index, error) {
	return newIndex(d.Metadata, d.Entries)
}

func newIndex(meta Metadata, entries []Entry) (*Index, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Unit.ID < sorted[j].Unit.ID })

	byID := make(map[string]int, len(sorted))

	for i, e := range sorted {
		if _, dup := byID[e.Unit.ID]; dup {
			return nil, errors.Newf(errors.ErrTypeInternal, "duplicate unit %s in index", e.Unit.ID)
		}

		if meta.Dimensions == 0 {
			meta.Dimensions = len(e.Vector)
		}

		if len(e.Vector) != meta.Dimensions {
			return nil, errors.Newf(errors.ErrTypeInternal,
				"unit %s has %d dimensions, index expects %d", e.Unit.ID, len(e.Vector), meta.Dimensions)
		}

		byID[e.Unit.ID] = i
	}

	if meta.BuiltAt.IsZero() {
		meta.BuiltAt = time.Now().UTC()
	}

	return &Index{meta: meta, entries: sorted, byID: byID}, nil
}

// Metadata returns the build metadata
func (ix *Index) Metadata() Metadata {
	return ix.meta
}

// Len returns the number of indexed units
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}

	return len(ix.entries)
}

// IsEmpty reports whether there is nothing to search
func (ix *Index) IsEmpty() bool {
	return ix.Len() == 0
}

// Units returns the indexed units in ID order
func (ix *Index) Units() []chunker.SchemaUnit {
	units := make([]chunker.SchemaUnit, len(ix.entries))
	for i, e := range ix.entries {
		units[i] = e.Unit
	}

	return units
}

// Unit looks a unit up by ID
func (ix *Index) Unit(id string) (chunker.SchemaUnit, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return chunker.SchemaUnit{}, false
	}

	return ix.entries[i].Unit, true
}

// Dump returns a copy of the index in serializable form
func (ix *Index) Dump() Dump {
	entries := make([]Entry, len(ix.entries))
	copy(entries, ix.entries)

	return Dump{Metadata: ix.meta, Entries: entries}
}

// Rank scores every entry against query, highest first. Equal scores are
// ordered by unit ID so results are reproducible.
func (ix *Index) Rank(query []float32) ([]Hit, error) {
	if len(query) != ix.meta.Dimensions {
		return nil, errors.Newf(errors.ErrTypeEmbeddingService,
			"query vector has %d dimensions, index expects %d", len(query), ix.meta.Dimensions).
			WithSuggestion("Rebuild the index after changing the embedding provider")
	}

	hits := make([]Hit, len(ix.entries))
	for i, e := range ix.entries {
		hits[i] = Hit{Unit: e.Unit, Score: CosineSimilarity(query, e.Vector)}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}

		return hits[i].Unit.ID < hits[j].Unit.ID
	})

	return hits, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is zero or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
