// Package crmsync pushes persisted organizations and their people to a CRM.
// Organizations fan out across a bounded worker group; the people of an
// organization are only sent once the organization's own call has returned
// a remote id.
package crmsync

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/firmsync/internal/model"
	"github.com/sells-group/firmsync/internal/store"
)

// DefaultWorkers is the number of organizations synced concurrently.
const DefaultWorkers = 15

// Summary holds the counters of one sync run.
type Summary struct {
	Source string `json:"source"`

	OrganizationSuccess int `json:"organization_success"`
	OrganizationFailed  int `json:"organization_failed"`

	PersonSuccess int `json:"person_success"`
	PersonFailed  int `json:"person_failed"`
	// PersonSkipped counts people whose organization has no remote id.
	PersonSkipped int `json:"person_skipped"`
}

// Counters flattens s into the map stored in the run log.
func (s Summary) Counters() map[string]int {
	return map[string]int{
		"organization_success": s.OrganizationSuccess,
		"organization_failed":  s.OrganizationFailed,
		"person_success":       s.PersonSuccess,
		"person_failed":        s.PersonFailed,
		"person_skipped":       s.PersonSkipped,
	}
}

type counters struct {
	orgSuccess, orgFailed                   atomic.Int64
	personSuccess, personFailed, personSkip atomic.Int64
}

func (c *counters) summary(source string) Summary {
	return Summary{
		Source:              source,
		OrganizationSuccess: int(c.orgSuccess.Load()),
		OrganizationFailed:  int(c.orgFailed.Load()),
		PersonSuccess:       int(c.personSuccess.Load()),
		PersonFailed:        int(c.personFailed.Load()),
		PersonSkipped:       int(c.personSkip.Load()),
	}
}

// Syncer reads committed organizations and people from the store and writes
// them to a Destination.
type Syncer struct {
	store   store.Store
	dest    Destination
	workers int
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithWorkers sets how many organizations are synced at once.
func WithWorkers(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewSyncer returns a Syncer reading from st and writing to dest.
func NewSyncer(st store.Store, dest Destination, opts ...Option) *Syncer {
	s := &Syncer{store: st, dest: dest, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run syncs every organization tagged source, or all of them for
// store.SourceAll. Only a failure to read the organizations is returned as
// an error; entity failures are counted in the summary.
func (s *Syncer) Run(ctx context.Context, source string) (*Summary, error) {
	if source == "" {
		source = store.SourceAll
	}
	log := zap.L().With(zap.String("source", source), zap.String("kind", string(model.RunKindSync)))

	run, err := s.store.StartRun(ctx, model.RunKindSync, source)
	if err != nil {
		log.Warn("crmsync: could not record run start", zap.Error(err))
	}

	orgs, err := s.store.ListOrganizations(ctx, source)
	if err != nil {
		err = eris.Wrap(err, "crmsync: fetch organizations")
		s.finish(ctx, run, Summary{Source: source}, err)
		return nil, err
	}

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range orgs {
		org := &orgs[i]
		g.Go(func() error {
			s.syncOrganization(gctx, org, &c)
			return nil
		})
	}
	_ = g.Wait()

	sum := c.summary(source)
	var runErr error
	if ctx.Err() != nil {
		runErr = eris.Wrap(ctx.Err(), "crmsync: run interrupted")
	}
	s.finish(ctx, run, sum, runErr)

	log.Info("crmsync: run complete",
		zap.Int("organizations", len(orgs)),
		zap.Int("organization_success", sum.OrganizationSuccess),
		zap.Int("organization_failed", sum.OrganizationFailed),
		zap.Int("person_success", sum.PersonSuccess),
		zap.Int("person_failed", sum.PersonFailed),
		zap.Int("person_skipped", sum.PersonSkipped),
	)
	return &sum, runErr
}

func (s *Syncer) syncOrganization(ctx context.Context, org *model.Organization, c *counters) {
	log := zap.L().With(
		zap.String("organization", org.Name),
		zap.Int64("organization_id", org.ID),
		zap.Bool("placeholder", org.IsPlaceholder()),
	)

	remoteID, err := s.dest.UpsertOrganization(ctx, org)
	switch {
	case err != nil:
		c.orgFailed.Add(1)
		log.Error("crmsync: organization sync failed", zap.Error(err))
	case remoteID == "":
		c.orgFailed.Add(1)
		log.Error("crmsync: organization sync returned no remote id")
	default:
		c.orgSuccess.Add(1)
	}

	people, err := s.store.ListPeople(ctx, org.ID)
	if err != nil {
		log.Error("crmsync: fetch people failed", zap.Error(err))
		return
	}
	if len(people) == 0 {
		return
	}
	if remoteID == "" {
		c.personSkip.Add(int64(len(people)))
		log.Warn("crmsync: organization has no remote id, people skipped", zap.Int("people", len(people)))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range people {
		p := &people[i]
		g.Go(func() error {
			if err := s.dest.UpsertPerson(gctx, p, remoteID); err != nil {
				c.personFailed.Add(1)
				log.Error("crmsync: person sync failed", zap.String("person", p.Name), zap.Error(err))
				return nil
			}
			c.personSuccess.Add(1)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Syncer) finish(ctx context.Context, run *model.Run, sum Summary, runErr error) {
	if run == nil {
		return
	}
	status, msg := model.RunStatusComplete, ""
	if runErr != nil {
		status, msg = model.RunStatusFailed, runErr.Error()
	}
	if err := s.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, sum.Counters(), msg); err != nil {
		zap.L().Warn("crmsync: could not record run result", zap.String("run_id", run.ID), zap.Error(err))
	}
}
