package testutil

import (
	"context"
	"sync"

	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/index"
)

// StaticLoader serves a catalog that tests can swap between loads
type StaticLoader struct {
	mu    sync.Mutex
	cat   *catalog.Catalog
	err   error
	loads int
}

// NewStaticLoader creates a loader returning cat
func NewStaticLoader(cat *catalog.Catalog) *StaticLoader {
	return &StaticLoader{cat: cat}
}

// Set replaces the catalog and clears any injected error
func (l *StaticLoader) Set(cat *catalog.Catalog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cat = cat
	l.err = nil
}

// FailWith makes later loads fail
func (l *StaticLoader) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.err = err
}

// Load returns the current catalog
func (l *StaticLoader) Load(ctx context.Context) (*catalog.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.loads++

	if l.err != nil {
		return nil, l.err
	}

	return l.cat, nil
}

// Name identifies the fake
func (l *StaticLoader) Name() string {
	return "static"
}

// Loads counts Load calls
func (l *StaticLoader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.loads
}

// MemoryMirror keeps published snapshots in a map
type MemoryMirror struct {
	mu        sync.Mutex
	dumps     map[string]index.Dump
	published int
}

// NewMemoryMirror creates an empty mirror
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{dumps: make(map[string]index.Dump)}
}

// Publish stores dump
func (m *MemoryMirror) Publish(_ context.Context, dump index.Dump) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dumps[dump.Metadata.CatalogHash+"/"+dump.Metadata.Provider] = dump
	m.published++

	return nil
}

// Fetch returns a stored dump or a not-found error
func (m *MemoryMirror) Fetch(_ context.Context, catalogHash, provider string) (*index.Dump, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dump, ok := m.dumps[catalogHash+"/"+provider]
	if !ok {
		return nil, errors.Newf(errors.ErrTypeNotFound, "no snapshot for %s", catalogHash)
	}

	return &dump, nil
}

// Published counts Publish calls
func (m *MemoryMirror) Published() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.published
}
