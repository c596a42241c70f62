package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/firmsync/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_FindOrganizationByDomain_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`^find_org_by_domain$`).
		WithArgs("unknown.com").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	org, err := tx.FindOrganizationByDomain(ctx, "unknown.com")
	require.NoError(t, err)
	assert.Nil(t, org)
	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupsUsePreparedStatements(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`^find_org_by_name_address$`).
		WithArgs("Smith & Co", "1 High St").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`^find_person$`).
		WithArgs(int64(7), "Jane Smith").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	org, err := tx.FindOrganizationByNameAddress(ctx, "Smith & Co", "1 High St")
	require.NoError(t, err)
	assert.Nil(t, org)
	p, err := tx.FindPerson(ctx, 7, "Jane Smith")
	require.NoError(t, err)
	assert.Nil(t, p)
	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())

	for _, name := range []string{"find_org_by_domain", "find_org_by_name_address", "find_person"} {
		assert.Contains(t, preparedStatements, name)
	}
}

func TestPostgresStore_InsertOrganization_ReturnsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO organizations .* RETURNING id`).
		WithArgs("acme.com", "Acme", "", "", "", nil, pgxmock.AnyArg(), pgxmock.AnyArg(), "crawler_lawscot", nil,
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	org := &model.Organization{Name: "Acme", Domain: "acme.com", Source: "crawler_lawscot"}
	require.NoError(t, tx.InsertOrganization(ctx, org))
	assert.Equal(t, int64(42), org.ID)
	require.NoError(t, tx.Commit(ctx))
	// Rollback after commit must not reach the driver.
	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertOrganization_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO organizations`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "organizations_domains_key"})
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	err = tx.InsertOrganization(ctx, &model.Organization{Name: "Acme", Domain: "acme.com"})
	require.Error(t, err)
	assert.True(t, IsConstraint(err))
	assert.True(t, IsDuplicate(err))
	assert.False(t, IsTransient(err))
	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitSerializationFailureIsTransient(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	err = tx.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BeginFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := s.Begin(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: begin")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListOrganizations_BySource(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var none *int
	rows := pgxmock.NewRows([]string{
		"id", "domains", "name", "phone", "email", "address", "practice_areas",
		"total_solicitors", "scottish_partners", "source_name", "redundant_info", "created_at", "updated_at",
	}).AddRow(int64(7), "smithco.com", "Smith & Co", "", "", "", []byte(`["Family"]`),
		none, none, "crawler_lawscot", []byte(`{"city":"Edinburgh"}`), ts, ts)

	mock.ExpectQuery(`FROM organizations WHERE source_name = \$1 ORDER BY id`).
		WithArgs("crawler_lawscot").
		WillReturnRows(rows)

	orgs, err := s.ListOrganizations(context.Background(), "crawler_lawscot")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, int64(7), orgs[0].ID)
	assert.Equal(t, "smithco.com", orgs[0].Domain)
	assert.Equal(t, "Edinburgh", orgs[0].Aux.String(model.AuxCity))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartAndFinishRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "sync", "all", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE runs SET status = \$1`).
		WithArgs("complete", `{"organization_success":3}`, "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	run, err := s.StartRun(ctx, model.RunKindSync, "all")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, run.ID, model.RunStatusComplete, map[string]int{"organization_success": 3}, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), "missing", model.RunStatusFailed, nil, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM runs WHERE true AND kind = \$1 AND status = \$2 ORDER BY started_at DESC LIMIT \$3`).
		WithArgs("ingest", "failed", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "source", "status", "counters", "error", "started_at", "finished_at"}))

	runs, err := s.ListRuns(context.Background(), RunFilter{Kind: model.RunKindIngest, Status: model.RunStatusFailed, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
