package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/firmsync/internal/db"
	"github.com/sells-group/firmsync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the per-record lookups prepared on each new
// connection. They run once or twice for every ingested record and are
// invoked by name.
var preparedStatements = map[string]string{
	"find_org_by_domain":       `SELECT ` + organizationColumns + ` FROM organizations WHERE domains = $1`,
	"find_org_by_name_address": `SELECT ` + organizationColumns + ` FROM organizations WHERE name = $1 AND address = $2 ORDER BY id LIMIT 1`,
	"find_person":              `SELECT ` + personColumns + ` FROM people WHERE organization_id = $1 AND name = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id                BIGSERIAL PRIMARY KEY,
	domains           TEXT UNIQUE,
	name              VARCHAR(255) NOT NULL,
	phone             TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	address           TEXT NOT NULL DEFAULT '',
	practice_areas    JSONB,
	total_solicitors  INTEGER,
	scottish_partners INTEGER,
	source_name       TEXT NOT NULL DEFAULT '',
	redundant_info    JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_organizations_name_address ON organizations(name, address);
CREATE INDEX IF NOT EXISTS idx_organizations_source_name ON organizations(source_name);

CREATE TABLE IF NOT EXISTS people (
	id              BIGSERIAL PRIMARY KEY,
	organization_id BIGINT NOT NULL REFERENCES organizations(id),
	name            VARCHAR(255) NOT NULL,
	email           TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	practice_areas  JSONB,
	source_name     TEXT NOT NULL DEFAULT '',
	redundant_info  JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (organization_id, name)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	counters    JSONB,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_kind_started ON runs(kind, started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	return &pgTx{tx: tx}, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context, source string) ([]model.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations`
	var args []any
	if source != "" && source != SourceAll {
		query += ` WHERE source_name = $1`
		args = append(args, source)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list organizations")
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan organization")
		}
		orgs = append(orgs, *o)
	}
	return orgs, eris.Wrap(rows.Err(), "postgres: list organizations iterate")
}

func (s *PostgresStore) ListPeople(ctx context.Context, organizationID int64) ([]model.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+personColumns+` FROM people WHERE organization_id = $1 ORDER BY id`,
		organizationID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list people for organization %d", organizationID)
	}
	defer rows.Close()

	var people []model.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan person")
		}
		people = append(people, *p)
	}
	return people, eris.Wrap(rows.Err(), "postgres: list people iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, kind model.RunKind, source string) (*model.Run, error) {
	r := &model.Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, source, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, string(r.Kind), r.Source, string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return r, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, counters map[string]int, errMsg string) error {
	countersJSON, err := countersArg(counters)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, counters = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(status), countersJSON, errMsg, now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// pgTx wraps a pgx transaction. Nested Begin calls map to pgx savepoints.
type pgTx struct {
	tx   pgx.Tx
	done bool
}

func (t *pgTx) FindOrganizationByDomain(ctx context.Context, domain string) (*model.Organization, error) {
	row := t.tx.QueryRow(ctx, "find_org_by_domain", domain)
	o, err := pgOrganization(row)
	return o, eris.Wrapf(err, "postgres: find organization by domain %q", domain)
}

func (t *pgTx) FindOrganizationByNameAddress(ctx context.Context, name, address string) (*model.Organization, error) {
	row := t.tx.QueryRow(ctx, "find_org_by_name_address", name, address)
	o, err := pgOrganization(row)
	return o, eris.Wrapf(err, "postgres: find organization by name %q", name)
}

func (t *pgTx) FindOrganizationByName(ctx context.Context, name string) (*model.Organization, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE name = $1 ORDER BY id LIMIT 1`, name)
	o, err := pgOrganization(row)
	return o, eris.Wrapf(err, "postgres: find organization by name %q", name)
}

func pgOrganization(row pgx.Row) (*model.Organization, error) {
	o, err := scanOrganization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (t *pgTx) InsertOrganization(ctx context.Context, org *model.Organization) error {
	args, err := organizationArgs(org)
	if err != nil {
		return err
	}
	ts := now()
	args = append(args, ts, ts)
	err = t.tx.QueryRow(ctx,
		`INSERT INTO organizations (domains, name, phone, email, address, practice_areas,
			total_solicitors, scottish_partners, source_name, redundant_info, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		args...,
	).Scan(&org.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert organization %q", org.Name)
	}
	org.CreatedAt, org.UpdatedAt = ts, ts
	return nil
}

func (t *pgTx) UpdateOrganization(ctx context.Context, org *model.Organization) error {
	args, err := organizationArgs(org)
	if err != nil {
		return err
	}
	ts := now()
	args = append(args, ts, org.ID)
	_, err = t.tx.Exec(ctx,
		`UPDATE organizations SET domains = $1, name = $2, phone = $3, email = $4, address = $5,
			practice_areas = $6, total_solicitors = $7, scottish_partners = $8, source_name = $9,
			redundant_info = $10, updated_at = $11
		 WHERE id = $12`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update organization %d", org.ID)
	}
	org.UpdatedAt = ts
	return nil
}

func (t *pgTx) FindPerson(ctx context.Context, organizationID int64, name string) (*model.Person, error) {
	p, err := scanPerson(t.tx.QueryRow(ctx, "find_person", organizationID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, eris.Wrapf(err, "postgres: find person %q", name)
}

func (t *pgTx) InsertPerson(ctx context.Context, p *model.Person) error {
	args, err := personArgs(p)
	if err != nil {
		return err
	}
	ts := now()
	args = append(args, ts, ts)
	err = t.tx.QueryRow(ctx,
		`INSERT INTO people (organization_id, name, email, phone, address, practice_areas,
			source_name, redundant_info, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		args...,
	).Scan(&p.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert person %q", p.Name)
	}
	p.CreatedAt, p.UpdatedAt = ts, ts
	return nil
}

func (t *pgTx) UpdatePerson(ctx context.Context, p *model.Person) error {
	args, err := personArgs(p)
	if err != nil {
		return err
	}
	ts := now()
	args = append(args, ts, p.ID)
	_, err = t.tx.Exec(ctx,
		`UPDATE people SET organization_id = $1, name = $2, email = $3, phone = $4, address = $5,
			practice_areas = $6, source_name = $7, redundant_info = $8, updated_at = $9
		 WHERE id = $10`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update person %d", p.ID)
	}
	p.UpdatedAt = ts
	return nil
}

func (t *pgTx) Begin(ctx context.Context) (Tx, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: savepoint")
	}
	return &pgTx{tx: sp}, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}
	t.done = true
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return eris.Wrap(err, "postgres: rollback")
}
