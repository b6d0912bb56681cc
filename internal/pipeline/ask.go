package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/logging"
	"github.com/kyleking/sqlrag/internal/observability"
	"github.com/kyleking/sqlrag/internal/repair"
	"github.com/kyleking/sqlrag/internal/retriever"
)

// AskOptions override per-request settings. Zero values use the pipeline's.
type AskOptions struct {
	Template string `json:"template,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

// Answer is validated SQL and how it was produced
type Answer struct {
	RequestID   string           `json:"request_id"`
	Question    string           `json:"question"`
	SQL         string           `json:"sql"`
	Tables      []string         `json:"tables"`
	Retrieved   []string         `json:"retrieved"`
	Dropped     []string         `json:"dropped,omitempty"`
	Template    string           `json:"template"`
	Attempts    int              `json:"attempts"`
	Trail       []repair.Attempt `json:"trail"`
	Model       string           `json:"model"`
	CatalogHash string           `json:"catalog_hash"`
	Duration    time.Duration    `json:"duration"`
}

// Ask runs one question through retrieve, assemble, generate and validate.
// A question the loop cannot answer fails with a *repair.Rejection.
func (p *Pipeline) Ask(ctx context.Context, question string, opts AskOptions) (*Answer, error) {
	requestID := uuid.NewString()
	start := p.now()
	log := logging.WithField("request_id", requestID)

	answer, err := p.ask(ctx, question, opts, requestID)
	if err != nil {
		var rejection *repair.Rejection
		if errors.As(err, &rejection) {
			observability.ObserveRequest(observability.OutcomeRejected, rejection.Attempts)
			log.WithFields(map[string]any{
				"attempts": rejection.Attempts,
				"last_sql": rejection.LastSQL,
			}).Warn("Question rejected")
		} else {
			observability.ObserveRequest(observability.OutcomeError, 0)
			log.WithError(err).Debug("Question failed")
		}

		return nil, err
	}

	answer.Duration = time.Since(start)
	observability.ObserveRequest(observability.OutcomeAccepted, answer.Attempts)

	log.WithFields(map[string]any{
		"attempts": answer.Attempts,
		"tables":   answer.Tables,
		"duration": answer.Duration.String(),
	}).Info("Question answered")

	return answer, nil
}

func (p *Pipeline) ask(ctx context.Context, question string, opts AskOptions, requestID string) (*Answer, error) {
	q, err := cleanQuestion(question)
	if err != nil {
		return nil, err
	}

	snap := p.current.Load()
	if snap == nil {
		return nil, notLoaded()
	}

	k := opts.TopK
	if k <= 0 {
		k = p.settings.TopK
	}

	stageStart := time.Now()

	vec, err := p.embedder.EmbedQuestion(ctx, q)
	if err != nil {
		return nil, err
	}

	observability.ObserveStage(observability.StageEmbed, time.Since(stageStart))
	stageStart = time.Now()

	retrieved, err := retriever.Retrieve(snap.Index, vec, k)
	if err != nil {
		return nil, err
	}

	observability.ObserveStage(observability.StageRetrieve, time.Since(stageStart))
	stageStart = time.Now()

	pc, err := p.assembler.Assemble(q, retrieved, opts.Template)
	if err != nil {
		return nil, err
	}

	observability.ObserveStage(observability.StageAssemble, time.Since(stageStart))

	if p.settings.TracePrompt {
		logging.WithFields(map[string]any{
			"request_id": requestID,
			"template":   pc.Template.Name,
			"chars":      len(pc.Text),
		}).Debug(pc.Text)
	}

	stageStart = time.Now()

	loop := repair.NewLoop(p.generator, snap.Validator, p.settings.MaxAttempts, p.settings.AllowWrites)

	res, err := loop.Run(ctx, pc)

	observability.ObserveStage(observability.StageRepair, time.Since(stageStart))

	if err != nil {
		return nil, err
	}

	return &Answer{
		RequestID:   requestID,
		Question:    q,
		SQL:         res.SQL,
		Tables:      res.Tables,
		Retrieved:   retrieved.TableIDs(),
		Dropped:     pc.Dropped,
		Template:    pc.Template.Name,
		Attempts:    res.Attempts,
		Trail:       res.Trail,
		Model:       p.generator.Model(),
		CatalogHash: snap.Hash(),
	}, nil
}

// RetryPolicy bounds whole-request retries on transient service errors
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (r RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()

	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}

	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}

	attempts := r.Attempts
	if attempts < 0 {
		attempts = 0
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts)), ctx)
}

// AskWithRetry is Ask with exponential backoff on embedding and generation
// service errors. Rejections and validation failures are returned at once.
func (p *Pipeline) AskWithRetry(ctx context.Context, question string, opts AskOptions) (*Answer, error) {
	var answer *Answer

	operation := func() error {
		a, err := p.Ask(ctx, question, opts)
		if err != nil {
			if errors.IsRetryable(err) {
				return err
			}

			return backoff.Permanent(err)
		}

		answer = a

		return nil
	}

	notify := func(err error, wait time.Duration) {
		logging.WithError(err).Warnf("Transient failure, retrying in %s", wait)
	}

	if err := backoff.RetryNotify(operation, p.settings.Retry.backOff(ctx), notify); err != nil {
		return nil, err
	}

	return answer, nil
}
