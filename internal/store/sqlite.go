package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/firmsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; a second connection would only add SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	domains           TEXT UNIQUE,
	name              TEXT NOT NULL CHECK (length(name) <= 255),
	phone             TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	address           TEXT NOT NULL DEFAULT '',
	practice_areas    TEXT,
	total_solicitors  INTEGER,
	scottish_partners INTEGER,
	source_name       TEXT NOT NULL DEFAULT '',
	redundant_info    TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_organizations_name_address ON organizations(name, address);
CREATE INDEX IF NOT EXISTS idx_organizations_source_name ON organizations(source_name);

CREATE TABLE IF NOT EXISTS people (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	organization_id INTEGER NOT NULL REFERENCES organizations(id),
	name            TEXT NOT NULL CHECK (length(name) <= 255),
	email           TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	practice_areas  TEXT,
	source_name     TEXT NOT NULL DEFAULT '',
	redundant_info  TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (organization_id, name)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	counters    TEXT,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_kind_started ON runs(kind, started_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	return &sqliteTx{tx: tx}, nil
}

func (s *SQLiteStore) ListOrganizations(ctx context.Context, source string) ([]model.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations`
	var args []any
	if source != "" && source != SourceAll {
		query += ` WHERE source_name = ?`
		args = append(args, source)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list organizations")
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan organization")
		}
		orgs = append(orgs, *o)
	}
	return orgs, eris.Wrap(rows.Err(), "sqlite: list organizations iterate")
}

func (s *SQLiteStore) ListPeople(ctx context.Context, organizationID int64) ([]model.Person, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personColumns+` FROM people WHERE organization_id = ? ORDER BY id`,
		organizationID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list people for organization %d", organizationID)
	}
	defer rows.Close()

	var people []model.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan person")
		}
		people = append(people, *p)
	}
	return people, eris.Wrap(rows.Err(), "sqlite: list people iterate")
}

func (s *SQLiteStore) StartRun(ctx context.Context, kind model.RunKind, source string) (*model.Run, error) {
	r := &model.Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, source, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, string(r.Kind), r.Source, string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return r, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, counters map[string]int, errMsg string) error {
	countersJSON, err := countersArg(counters)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, counters = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), countersJSON, errMsg, now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// sqliteTx is a transaction (depth 0) or a named savepoint inside one.
type sqliteTx struct {
	tx    *sql.Tx
	depth int
	done  bool
}

func (t *sqliteTx) savepoint() string {
	return fmt.Sprintf("sp_%d", t.depth)
}

func (t *sqliteTx) FindOrganizationByDomain(ctx context.Context, domain string) (*model.Organization, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE domains = ?`, domain)
	o, err := sqliteOrganization(row)
	return o, eris.Wrapf(err, "sqlite: find organization by domain %q", domain)
}

func (t *sqliteTx) FindOrganizationByNameAddress(ctx context.Context, name, address string) (*model.Organization, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE name = ? AND address = ? ORDER BY id LIMIT 1`,
		name, address)
	o, err := sqliteOrganization(row)
	return o, eris.Wrapf(err, "sqlite: find organization by name %q", name)
}

func (t *sqliteTx) FindOrganizationByName(ctx context.Context, name string) (*model.Organization, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE name = ? ORDER BY id LIMIT 1`, name)
	o, err := sqliteOrganization(row)
	return o, eris.Wrapf(err, "sqlite: find organization by name %q", name)
}

func sqliteOrganization(row *sql.Row) (*model.Organization, error) {
	o, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (t *sqliteTx) InsertOrganization(ctx context.Context, org *model.Organization) error {
	args, err := organizationArgs(org)
	if err != nil {
		return err
	}
	ts := now()
	args = append(args, ts, ts)
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO organizations (domains, name, phone, email, address, practice_areas,
			total_solicitors, scottish_partners, source_name, redundant_info, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert organization %q", org.Name)
	}
	if org.ID, err = res.LastInsertId(); err != nil {
		return eris.Wrap(err, "sqlite: organization id")
	}
	org.CreatedAt, org.UpdatedAt = ts, ts
	return nil
}

func (t *sqliteTx) UpdateOrganization(ctx context.Context, org *model.Organization) error {
	args, err := organizationArgs(org)
	if err != nil {
		return err
	}
	ts := now()
	args = append(args, ts, org.ID)
	_, err = t.tx.ExecContext(ctx,
		`UPDATE organizations SET domains = ?, name = ?, phone = ?, email = ?, address = ?,
			practice_areas = ?, total_solicitors = ?, scottish_partners = ?, source_name = ?,
			redundant_info = ?, updated_at = ?
		 WHERE id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update organization %d", org.ID)
	}
	org.UpdatedAt = ts
	return nil
}

func (t *sqliteTx) FindPerson(ctx context.Context, organizationID int64, name string) (*model.Person, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM people WHERE organization_id = ? AND name = ?`,
		organizationID, name)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, eris.Wrapf(err, "sqlite: find person %q", name)
}

func (t *sqliteTx) InsertPerson(ctx context.Context, p *model.Person) error {
	args, err := personArgs(p)
	if err != nil {
		return err
	}
	ts := now()
	args = append(args, ts, ts)
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO people (organization_id, name, email, phone, address, practice_areas,
			source_name, redundant_info, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert person %q", p.Name)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return eris.Wrap(err, "sqlite: person id")
	}
	p.CreatedAt, p.UpdatedAt = ts, ts
	return nil
}

func (t *sqliteTx) UpdatePerson(ctx context.Context, p *model.Person) error {
	args, err := personArgs(p)
	if err != nil {
		return err
	}
	ts := now()
	args = append(args, ts, p.ID)
	_, err = t.tx.ExecContext(ctx,
		`UPDATE people SET organization_id = ?, name = ?, email = ?, phone = ?, address = ?,
			practice_areas = ?, source_name = ?, redundant_info = ?, updated_at = ?
		 WHERE id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update person %d", p.ID)
	}
	p.UpdatedAt = ts
	return nil
}

func (t *sqliteTx) Begin(ctx context.Context) (Tx, error) {
	nested := &sqliteTx{tx: t.tx, depth: t.depth + 1}
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+nested.savepoint()); err != nil {
		return nil, eris.Wrap(err, "sqlite: savepoint")
	}
	return nested, nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	var err error
	if t.depth == 0 {
		err = t.tx.Commit()
	} else {
		_, err = t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+t.savepoint())
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	t.done = true
	return nil
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if t.depth == 0 {
		err := t.tx.Rollback()
		if err == nil || errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return eris.Wrap(err, "sqlite: rollback")
	}
	sp := t.savepoint()
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return eris.Wrapf(err, "sqlite: rollback to %s", sp)
	}
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp)
	return eris.Wrapf(err, "sqlite: release %s", sp)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
