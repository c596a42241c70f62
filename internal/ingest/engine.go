// Package ingest persists producer records idempotently. Records are
// reconciled against existing rows by identity key and committed in bounded
// batches with retry on transient database failures.
package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/firmsync/internal/model"
	"github.com/sells-group/firmsync/internal/resilience"
	"github.com/sells-group/firmsync/internal/store"
)

// ErrNoSession is returned when the engine has no store to write to.
var ErrNoSession = eris.New("ingest: no database session")

// Engine is the entry point producers hand their records to.
type Engine struct {
	store     store.Store
	batchSize int
	retry     resilience.RetryConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize sets the number of units per committed transaction.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRetry replaces the commit retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Engine) {
		e.retry = cfg
	}
}

// NewEngine returns an Engine writing to st.
func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		batchSize: DefaultBatchSize,
		retry:     resilience.CommitRetryConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SaveCrawledData persists organizations together with their nested persons.
// Records without a source_name inherit source.
func (e *Engine) SaveCrawledData(ctx context.Context, source string, orgs []model.OrganizationRecord) (*Result, error) {
	units := make([]Unit, 0, len(orgs))
	for _, rec := range orgs {
		rec = rec.Clean()
		if rec.SourceName == "" {
			rec.SourceName = source
		}
		for i := range rec.Lawyers {
			if rec.Lawyers[i].SourceName == "" {
				rec.Lawyers[i].SourceName = rec.SourceName
			}
		}
		units = append(units, organizationUnit{rec: rec})
	}
	return e.run(ctx, model.RunKindIngest, source, units)
}

// SaveAffiliatedPersons persists persons that arrive without a parent
// organization record. Each person names its organization; the organization
// is matched by exact name or created as a placeholder.
func (e *Engine) SaveAffiliatedPersons(ctx context.Context, source string, persons []model.PersonRecord) (*Result, error) {
	units := make([]Unit, 0, len(persons))
	for _, rec := range persons {
		rec = rec.Clean()
		if rec.SourceName == "" {
			rec.SourceName = source
		}
		units = append(units, personUnit{rec: rec})
	}
	return e.run(ctx, model.RunKindIngestPersons, source, units)
}

func (e *Engine) run(ctx context.Context, kind model.RunKind, source string, units []Unit) (*Result, error) {
	if e == nil || e.store == nil {
		return nil, ErrNoSession
	}
	if err := e.store.Ping(ctx); err != nil {
		return nil, eris.Wrap(err, "ingest: store unreachable")
	}

	log := zap.L().With(zap.String("source", source), zap.String("kind", string(kind)))

	run, err := e.store.StartRun(ctx, kind, source)
	if err != nil {
		log.Warn("ingest: could not record run start", zap.Error(err))
	}

	coord := NewCoordinator(e.store, e.batchSize, e.retry)
	res, runErr := coord.Run(ctx, units)
	res.Source = source

	if run != nil {
		status, msg := model.RunStatusComplete, ""
		if runErr != nil {
			status, msg = model.RunStatusFailed, runErr.Error()
		}
		// The run context may already be cancelled; the log entry should
		// still land.
		if err := e.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, res.Counters(), msg); err != nil {
			log.Warn("ingest: could not record run result", zap.Error(err))
		}
	}

	if runErr != nil {
		return &res, runErr
	}
	log.Info("ingest: run complete",
		zap.Int("units", len(units)),
		zap.Int("organization_success", res.OrganizationSuccess),
		zap.Int("organization_failed", res.OrganizationFailed),
		zap.Int("person_success", res.PersonSuccess),
		zap.Int("person_failed", res.PersonFailed),
		zap.Int("batches", res.Batches),
	)
	return &res, nil
}
