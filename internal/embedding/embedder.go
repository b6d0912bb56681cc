package embedding

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kyleking/sqlrag/internal/cache"
	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/chunker"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/logging"
)

const defaultConcurrency = 4

// Embedder turns schema units and questions into vectors
type Embedder struct {
	provider    Provider
	concurrency int
	questions   *cache.VectorCache
}

// SchemaEmbedding is the result of embedding a whole catalog
type SchemaEmbedding struct {
	Units   []chunker.SchemaUnit
	Vectors map[string][]float32
}

// NewEmbedder wraps a provider. concurrency bounds in-flight embedding calls.
func NewEmbedder(provider Provider, concurrency int) *Embedder {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Embedder{provider: provider, concurrency: concurrency}
}

// WithQuestionCache makes EmbedQuestion consult c before calling the provider
func (e *Embedder) WithQuestionCache(c *cache.VectorCache) *Embedder {
	e.questions = c
	return e
}

// Provider returns the wrapped provider
func (e *Embedder) Provider() Provider {
	return e.provider
}

// EmbedSchema chunks the catalog and embeds every unit. It fails with an
// empty-catalog error before calling the provider when there is nothing to embed.
func (e *Embedder) EmbedSchema(ctx context.Context, cat *catalog.Catalog) (*SchemaEmbedding, error) {
	if cat.IsEmpty() {
		return nil, errors.NewEmptyCatalogError("catalog")
	}

	units := chunker.Chunk(cat)

	vectors, err := e.EmbedUnits(ctx, units)
	if err != nil {
		return nil, err
	}

	return &SchemaEmbedding{Units: units, Vectors: vectors}, nil
}

// EmbedUnits embeds units concurrently. Results are keyed by unit ID so call
// order does not affect the output. The first failure cancels the rest.
func (e *Embedder) EmbedUnits(ctx context.Context, units []chunker.SchemaUnit) (map[string][]float32, error) {
	if len(units) == 0 {
		return nil, errors.NewEmptyCatalogError("catalog")
	}

	if !e.provider.IsEnabled() {
		return nil, errors.Newf(errors.ErrTypeEmbeddingService, "embedding provider %s is not enabled", e.provider.GetName())
	}

	var mu sync.Mutex

	vectors := make(map[string][]float32, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, unit := range units {
		g.Go(func() error {
			vec, err := e.provider.GenerateEmbedding(gctx, unit.Text)
			if err != nil {
				return asServiceError(err, "failed to embed table "+unit.ID)
			}

			mu.Lock()
			vectors[unit.ID] = vec
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logging.WithFields(map[string]any{
		"provider": e.provider.GetName(),
		"units":    len(vectors),
	}).Debug("Embedded schema units")

	return vectors, nil
}

// EmbedQuestion embeds a natural-language question
func (e *Embedder) EmbedQuestion(ctx context.Context, question string) ([]float32, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.New(errors.ErrTypeValidation, "question must not be empty")
	}

	identity := Identity(e.provider)

	if e.questions != nil {
		if vec, ok := e.questions.Get(ctx, identity, question); ok && len(vec) == e.provider.GetDimensions() {
			return vec, nil
		}
	}

	vec, err := e.provider.GenerateEmbedding(ctx, question)
	if err != nil {
		return nil, asServiceError(err, "failed to embed question")
	}

	if e.questions != nil {
		e.questions.Put(ctx, identity, question, vec)
	}

	return vec, nil
}

// asServiceError types untyped provider failures. Cancellation passes through
// untouched so callers can tell it apart from an outage.
func asServiceError(err error, message string) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var structErr *errors.Error
	if stderrors.As(err, &structErr) {
		return err
	}

	return errors.Wrap(err, errors.ErrTypeEmbeddingService, message)
}
