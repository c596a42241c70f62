package ingest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/firmsync/internal/model"
	"github.com/sells-group/firmsync/internal/resilience"
	"github.com/sells-group/firmsync/internal/store"
)

// DefaultBatchSize is the number of units committed per transaction.
const DefaultBatchSize = 30

// Unit is one independently failing piece of work: an organization with its
// nested persons, or a single person on the person-first path.
type Unit interface {
	// Label names the unit in logs.
	Label() string
	// Apply writes the unit through tx, which is a savepoint of the batch
	// transaction. A returned error rolls back the savepoint.
	Apply(ctx context.Context, tx store.Tx) (Result, error)
	// Failed returns the counters charged when the unit is discarded.
	Failed() Result
}

// Coordinator commits units in bounded batches. Each unit runs inside its own
// savepoint, so an integrity or validation failure costs only that unit. A
// transient failure replays the whole batch in a fresh transaction.
type Coordinator struct {
	store     store.Store
	batchSize int
	retry     resilience.RetryConfig
}

// NewCoordinator returns a Coordinator writing to st. A zero batchSize uses
// DefaultBatchSize. A nil retry.ShouldRetry uses store.IsTransient.
func NewCoordinator(st store.Store, batchSize int, retry resilience.RetryConfig) *Coordinator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = store.IsTransient
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("store", "commit_batch")
	}
	return &Coordinator{store: st, batchSize: batchSize, retry: retry}
}

// beginError marks a failure to open the batch transaction. Once retries are
// spent it ends the run: without a session no later batch can succeed.
type beginError struct {
	err error
}

func (e *beginError) Error() string { return e.err.Error() }
func (e *beginError) Unwrap() error { return e.err }

// Run commits units in order, flushing the final partial batch. Only fatal
// conditions return an error: the transaction cannot be opened, or ctx is
// done. The returned Result covers every unit seen up to that point.
func (c *Coordinator) Run(ctx context.Context, units []Unit) (Result, error) {
	var total Result
	for start := 0; start < len(units); start += c.batchSize {
		end := min(start+c.batchSize, len(units))
		batch := units[start:end]

		res, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (Result, error) {
			return c.applyBatch(ctx, batch)
		})
		if err == nil {
			total.Add(res)
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return total, eris.Wrap(ctxErr, "ingest: run cancelled")
		}
		var be *beginError
		if errors.As(err, &be) {
			return total, eris.Wrap(be.err, "ingest: open transaction")
		}

		zap.L().Error("ingest: batch discarded",
			zap.Int("first_unit", start),
			zap.Int("units", len(batch)),
			zap.Bool("retries_exhausted", resilience.IsExhausted(err)),
			zap.Error(err),
		)
		for _, u := range batch {
			total.Add(u.Failed())
		}
	}
	return total, nil
}

// applyBatch runs one attempt of a batch. Its counters only count once the
// commit succeeds.
func (c *Coordinator) applyBatch(ctx context.Context, batch []Unit) (Result, error) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return Result{}, &beginError{err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var res Result
	for _, u := range batch {
		ur, err := applyUnit(ctx, tx, u)
		if err != nil {
			if store.IsTransient(err) {
				return Result{}, err
			}
			logDiscarded(u.Label(), err)
			res.Add(u.Failed())
			continue
		}
		res.Add(ur)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, eris.Wrap(err, "ingest: commit batch")
	}
	res.Batches = 1
	return res, nil
}

func applyUnit(ctx context.Context, tx store.Tx, u Unit) (Result, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return Result{}, eris.Wrap(err, "ingest: open savepoint")
	}
	res, err := u.Apply(ctx, sp)
	if err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			// A savepoint that cannot be rolled back leaves the batch
			// transaction unusable; surface it as a batch failure.
			return Result{}, rbErr
		}
		return Result{}, err
	}
	if err := sp.Commit(ctx); err != nil {
		_ = sp.Rollback(ctx)
		return Result{}, eris.Wrap(err, "ingest: release savepoint")
	}
	return res, nil
}

func logDiscarded(label string, err error) {
	fields := []zap.Field{zap.String("record", label), zap.Error(err)}
	switch {
	case errors.Is(err, ErrMissingName), errors.Is(err, ErrMissingOrganizationName):
		zap.L().Warn("ingest: record rejected", fields...)
	case store.IsDuplicate(err):
		zap.L().Warn("ingest: record duplicates an existing key", fields...)
	case store.IsConstraint(err):
		zap.L().Warn("ingest: record violates a constraint", fields...)
	default:
		zap.L().Error("ingest: record failed", fields...)
	}
}

// organizationUnit writes one organization and its nested persons. Each
// person gets its own savepoint inside the organization's.
type organizationUnit struct {
	rec model.OrganizationRecord
}

func (u organizationUnit) Label() string {
	if u.rec.Name == "" {
		return "(unnamed organization)"
	}
	return u.rec.Name
}

func (u organizationUnit) Failed() Result {
	return Result{OrganizationFailed: 1, PersonFailed: len(u.rec.Lawyers)}
}

func (u organizationUnit) Apply(ctx context.Context, tx store.Tx) (Result, error) {
	id, created, err := ReconcileOrganization(ctx, tx, u.rec)
	if err != nil {
		return Result{}, err
	}
	res := Result{OrganizationSuccess: 1}
	if created {
		res.OrganizationNew = 1
	} else {
		res.OrganizationUpdated = 1
	}

	for _, p := range u.rec.Lawyers {
		pu := personUnit{rec: p, organizationID: id}
		pr, err := applyUnit(ctx, tx, pu)
		if err != nil {
			if store.IsTransient(err) {
				return Result{}, err
			}
			logDiscarded(pu.Label(), err)
			res.Add(pu.Failed())
			continue
		}
		res.Add(pr)
	}
	return res, nil
}

// personUnit writes one person. With organizationID zero it resolves the
// organization by name (person-first path), creating a placeholder when none
// exists.
type personUnit struct {
	rec            model.PersonRecord
	organizationID int64
}

func (u personUnit) Label() string {
	if u.rec.Name == "" {
		return "(unnamed person)"
	}
	return u.rec.Name
}

func (u personUnit) Failed() Result {
	return Result{PersonFailed: 1}
}

func (u personUnit) Apply(ctx context.Context, tx store.Tx) (Result, error) {
	var res Result
	orgID := u.organizationID
	if orgID == 0 {
		if u.rec.Name == "" {
			return Result{}, ErrMissingName
		}
		id, placeholder, err := resolveOrganization(ctx, tx, u.rec)
		if err != nil {
			return Result{}, err
		}
		orgID = id
		if placeholder {
			res.OrganizationPlaceholders = 1
		}
	}

	created, err := ReconcilePerson(ctx, tx, orgID, u.rec)
	if err != nil {
		return Result{}, err
	}
	res.PersonSuccess = 1
	if created {
		res.PersonNew = 1
	} else {
		res.PersonUpdated = 1
	}
	return res, nil
}

// resolveOrganization finds the organization a person names by exact name,
// or creates a minimal placeholder flagged auto_created.
func resolveOrganization(ctx context.Context, tx store.Tx, rec model.PersonRecord) (int64, bool, error) {
	name := rec.OrganizationName()
	if name == "" {
		return 0, false, ErrMissingOrganizationName
	}
	org, err := tx.FindOrganizationByName(ctx, name)
	if err != nil {
		return 0, false, eris.Wrapf(err, "ingest: look up organization %q", name)
	}
	if org != nil {
		return org.ID, false, nil
	}

	org = &model.Organization{
		Name:   name,
		Source: rec.SourceName,
		Aux:    model.Aux{model.AuxAutoCreated: true},
	}
	if err := tx.InsertOrganization(ctx, org); err != nil {
		return 0, false, eris.Wrapf(err, "ingest: create placeholder organization %q", name)
	}
	zap.L().Info("ingest: created placeholder organization",
		zap.String("organization", name),
		zap.String("person", rec.Name),
	)
	return org.ID, true, nil
}
