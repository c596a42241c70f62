// Package store persists organizations, people and the run log. Two drivers
// share one interface: Postgres for deployments and SQLite for local runs and
// tests.
package store

import (
	"context"

	"github.com/sells-group/firmsync/internal/model"
)

// SourceAll selects every source tag when listing organizations.
const SourceAll = "all"

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   model.RunKind   `json:"kind,omitempty"`
	Source string          `json:"source,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for ingestion and sync.
type Store interface {
	// Begin opens a transaction. Organization and person writes only happen
	// inside one.
	Begin(ctx context.Context) (Tx, error)

	// Reads for the sync orchestrator. They see committed state only.
	ListOrganizations(ctx context.Context, source string) ([]model.Organization, error)
	ListPeople(ctx context.Context, organizationID int64) ([]model.Person, error)

	// Run log
	StartRun(ctx context.Context, kind model.RunKind, source string) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, counters map[string]int, errMsg string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Tx is an open transaction or savepoint. Find methods return (nil, nil)
// when no row matches. Begin on a Tx opens a nested savepoint whose
// Rollback undoes only the work done through it. Rollback after Commit is a
// no-op, so callers can always defer it.
type Tx interface {
	FindOrganizationByDomain(ctx context.Context, domain string) (*model.Organization, error)
	FindOrganizationByNameAddress(ctx context.Context, name, address string) (*model.Organization, error)
	// FindOrganizationByName returns the lowest-id organization with exactly
	// this name.
	FindOrganizationByName(ctx context.Context, name string) (*model.Organization, error)
	// InsertOrganization inserts org and sets its ID and timestamps. The id
	// is visible to later statements in the same transaction.
	InsertOrganization(ctx context.Context, org *model.Organization) error
	UpdateOrganization(ctx context.Context, org *model.Organization) error

	FindPerson(ctx context.Context, organizationID int64, name string) (*model.Person, error)
	InsertPerson(ctx context.Context, p *model.Person) error
	UpdatePerson(ctx context.Context, p *model.Person) error

	Begin(ctx context.Context) (Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
