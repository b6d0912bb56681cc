// Package pipeline wires the catalog, index, prompt, generation and repair
// stages into one request path and keeps the live schema snapshot.
package pipeline

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/embedding"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/generator"
	"github.com/kyleking/sqlrag/internal/index"
	"github.com/kyleking/sqlrag/internal/llm"
	"github.com/kyleking/sqlrag/internal/mirror"
	"github.com/kyleking/sqlrag/internal/prompt"
	"github.com/kyleking/sqlrag/internal/storage"
	"github.com/kyleking/sqlrag/internal/validator"
)

// Snapshot is an immutable catalog and the index built from it. Requests
// read whichever snapshot was current when they started.
type Snapshot struct {
	Catalog   *catalog.Catalog
	Index     *index.Index
	Validator *validator.Validator
	Source    string
	LoadedAt  time.Time
}

// Hash is the catalog content hash
func (s *Snapshot) Hash() string {
	return s.Catalog.Hash()
}

// Deps are the collaborators a pipeline needs. Store and Mirror are optional.
type Deps struct {
	Loader    catalog.Loader
	Embedder  *embedding.Embedder
	Service   llm.Service
	Assembler *prompt.Assembler
	Store     storage.Store
	Mirror    mirror.Mirror
}

// Settings tune request handling
type Settings struct {
	TopK          int
	MaxAttempts   int
	AllowWrites   bool
	KeepSnapshots int
	TracePrompt   bool
	Retry         RetryPolicy
}

// Pipeline answers questions against the current snapshot
type Pipeline struct {
	loader    catalog.Loader
	embedder  *embedding.Embedder
	generator *generator.Generator
	assembler *prompt.Assembler
	store     storage.Store
	mirror    mirror.Mirror
	settings  Settings

	current atomic.Pointer[Snapshot]
	group   singleflight.Group
	mu      sync.Mutex
	now     func() time.Time
}

// New validates deps and creates a pipeline with no snapshot loaded
func New(deps Deps, settings Settings) (*Pipeline, error) {
	if deps.Loader == nil {
		return nil, errors.New(errors.ErrTypeConfig, "a catalog loader is required")
	}

	if deps.Embedder == nil {
		return nil, errors.New(errors.ErrTypeConfig, "an embedder is required")
	}

	if deps.Service == nil {
		return nil, errors.New(errors.ErrTypeConfig, "a generation service is required")
	}

	if deps.Assembler == nil {
		deps.Assembler = prompt.NewAssembler(nil, 0)
	}

	if settings.TopK <= 0 {
		settings.TopK = 5
	}

	return &Pipeline{
		loader:    deps.Loader,
		embedder:  deps.Embedder,
		generator: generator.New(deps.Service),
		assembler: deps.Assembler,
		store:     deps.Store,
		mirror:    deps.Mirror,
		settings:  settings,
		now:       time.Now,
	}, nil
}

// Snapshot returns the live snapshot or nil before the first refresh
func (p *Pipeline) Snapshot() *Snapshot {
	return p.current.Load()
}

// Ready reports whether questions can be answered
func (p *Pipeline) Ready() error {
	if p.current.Load() == nil {
		return notLoaded()
	}

	return nil
}

// Templates lists the prompt template names
func (p *Pipeline) Templates() []string {
	return p.assembler.Registry().Names()
}

// Model names the generation service
func (p *Pipeline) Model() string {
	return p.generator.Model()
}

// Store returns the snapshot store, which may be nil
func (p *Pipeline) Store() storage.Store {
	return p.store
}

func notLoaded() *errors.Error {
	return errors.New(errors.ErrTypeEmptyCatalog, "no schema index is loaded").
		WithSuggestion("Run 'sqlrag index refresh' after checking the database connection")
}

func cleanQuestion(question string) (string, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return "", errors.New(errors.ErrTypeValidation, "question must not be empty")
	}

	return q, nil
}
