package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite for local runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id               TEXT PRIMARY KEY,
	workspace_id     TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	domain           TEXT NOT NULL DEFAULT '',
	employee_count   INTEGER,
	flagged_large    BOOLEAN NOT NULL DEFAULT 0,
	revenue          REAL,
	stage            TEXT NOT NULL DEFAULT '',
	deal_value       REAL,
	status           TEXT NOT NULL DEFAULT '',
	last_action_type TEXT,
	last_action_at   DATETIME,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME
);

CREATE TABLE IF NOT EXISTS people (
	id               TEXT PRIMARY KEY,
	workspace_id     TEXT NOT NULL,
	company_id       TEXT NOT NULL DEFAULT '',
	external_id      TEXT NOT NULL DEFAULT '',
	full_name        TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT '',
	last_action_type TEXT,
	last_action_at   DATETIME,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS buyer_groups (
	company_id   TEXT PRIMARY KEY,
	id           TEXT NOT NULL,
	workspace_id TEXT NOT NULL DEFAULT '',
	data         TEXT NOT NULL,
	generated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ranked_queues (
	workspace_id  TEXT PRIMARY KEY,
	id            TEXT NOT NULL,
	generation    INTEGER NOT NULL,
	ordering_mode TEXT NOT NULL,
	eligible      INTEGER NOT NULL,
	snapshot_at   DATETIME NOT NULL,
	built_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_entries (
	workspace_id TEXT NOT NULL,
	global_rank  INTEGER NOT NULL,
	entity_kind  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	company_id   TEXT NOT NULL DEFAULT '',
	score        REAL NOT NULL,
	PRIMARY KEY (workspace_id, global_rank)
);

CREATE TABLE IF NOT EXISTS discovery_failures (
	id             TEXT PRIMARY KEY,
	company_id     TEXT NOT NULL UNIQUE,
	workspace_id   TEXT NOT NULL DEFAULT '',
	employees      INTEGER,
	flagged_large  BOOLEAN NOT NULL DEFAULT 0,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_companies_workspace ON companies(workspace_id);
CREATE INDEX IF NOT EXISTS idx_people_workspace ON people(workspace_id);
CREATE INDEX IF NOT EXISTS idx_people_company ON people(company_id);
CREATE INDEX IF NOT EXISTS idx_discovery_failures_next ON discovery_failures(next_retry_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCompany(row scanner) (*model.Company, error) {
	var c model.Company
	var employees sql.NullInt64
	var revenue, deal sql.NullFloat64
	var actionType sql.NullString
	var actionAt, updatedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Domain, &employees, &c.FlaggedLarge,
		&revenue, &c.Stage, &deal, &c.Status, &actionType, &actionAt, &c.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	if employees.Valid {
		n := int(employees.Int64)
		c.EmployeeCount = &n
	}
	if revenue.Valid {
		c.Revenue = &revenue.Float64
	}
	if deal.Valid {
		c.DealValue = &deal.Float64
	}
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		c.UpdatedAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastAction = nullAction(actionType, actionAt)
	return &c, nil
}

func scanSQLitePerson(row scanner) (*model.Person, error) {
	var p model.Person
	var actionType sql.NullString
	var actionAt sql.NullTime
	if err := row.Scan(&p.ID, &p.WorkspaceID, &p.CompanyID, &p.ExternalID, &p.FullName, &p.Title,
		&p.Email, &p.Phone, &p.Status, &actionType, &actionAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.LastAction = nullAction(actionType, actionAt)
	return &p, nil
}

func nullAction(typ sql.NullString, at sql.NullTime) *model.Action {
	if !typ.Valid {
		return nil
	}
	var t *time.Time
	if at.Valid {
		t = &at.Time
	}
	return actionFrom(&typ.String, t)
}

// LoadSnapshot reads the whole workspace inside one transaction.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, workspaceID string) (*model.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin snapshot")
	}
	defer tx.Rollback() //nolint:errcheck

	snap := &model.Snapshot{
		WorkspaceID: workspaceID,
		TakenAt:     time.Now().UTC(),
		BuyerGroups: make(map[string]*model.BuyerGroup),
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE workspace_id = ? ORDER BY id`, workspaceID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query companies")
	}
	for rows.Next() {
		c, err := scanSQLiteCompany(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		snap.Companies = append(snap.Companies, *c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate companies")
	}

	rows, err = tx.QueryContext(ctx,
		`SELECT `+personColumns+` FROM people WHERE workspace_id = ? ORDER BY id`, workspaceID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query people")
	}
	for rows.Next() {
		p, err := scanSQLitePerson(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan person")
		}
		snap.People = append(snap.People, *p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate people")
	}

	rows, err = tx.QueryContext(ctx,
		`SELECT bg.data FROM buyer_groups bg JOIN companies c ON c.id = bg.company_id WHERE c.workspace_id = ?`,
		workspaceID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query buyer groups")
	}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan buyer group")
		}
		var g model.BuyerGroup
		if err := json.Unmarshal([]byte(data), &g); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: unmarshal buyer group")
		}
		snap.BuyerGroups[g.CompanyID] = &g
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate buyer groups")
	}

	return snap, eris.Wrap(tx.Commit(), "sqlite: commit snapshot")
}

// GetCompany returns a company by ID, or nil if it does not exist.
func (s *SQLiteStore) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, companyID)
	c, err := scanSQLiteCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %s", companyID)
	}
	return c, nil
}

// UpsertCompany inserts or replaces a company.
func (s *SQLiteStore) UpsertCompany(ctx context.Context, c model.Company) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	actionType, actionAt := actionArgs(c.LastAction)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (`+companyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		 ON CONFLICT (id) DO UPDATE SET
		   workspace_id = excluded.workspace_id, name = excluded.name, domain = excluded.domain,
		   employee_count = excluded.employee_count, flagged_large = excluded.flagged_large,
		   revenue = excluded.revenue, stage = excluded.stage, deal_value = excluded.deal_value,
		   status = excluded.status, last_action_type = excluded.last_action_type,
		   last_action_at = excluded.last_action_at, updated_at = ?`,
		c.ID, c.WorkspaceID, c.Name, c.Domain, c.EmployeeCount, c.FlaggedLarge,
		c.Revenue, c.Stage, c.DealValue, c.Status, actionType, actionAt, c.CreatedAt.UTC(),
		time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert company %s", c.ID)
}

// UpsertPerson inserts or replaces a person.
func (s *SQLiteStore) UpsertPerson(ctx context.Context, p model.Person) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	actionType, actionAt := actionArgs(p.LastAction)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO people (`+personColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   workspace_id = excluded.workspace_id, company_id = excluded.company_id,
		   external_id = excluded.external_id, full_name = excluded.full_name, title = excluded.title,
		   email = excluded.email, phone = excluded.phone, status = excluded.status,
		   last_action_type = excluded.last_action_type, last_action_at = excluded.last_action_at`,
		p.ID, p.WorkspaceID, p.CompanyID, p.ExternalID, p.FullName, p.Title,
		p.Email, p.Phone, p.Status, actionType, actionAt, p.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert person %s", p.ID)
}

// ReplaceBuyerGroup swaps the company's buyer group in a single statement.
func (s *SQLiteStore) ReplaceBuyerGroup(ctx context.Context, g *model.BuyerGroup) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	data, err := json.Marshal(g)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal buyer group")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO buyer_groups (company_id, id, workspace_id, data, generated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (company_id) DO UPDATE SET
		   id = excluded.id, workspace_id = excluded.workspace_id,
		   data = excluded.data, generated_at = excluded.generated_at`,
		g.CompanyID, g.ID, g.WorkspaceID, string(data), g.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: replace buyer group %s", g.CompanyID)
}

// GetBuyerGroup returns the current buyer group, or nil if none exists.
func (s *SQLiteStore) GetBuyerGroup(ctx context.Context, companyID string) (*model.BuyerGroup, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM buyer_groups WHERE company_id = ?`, companyID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get buyer group %s", companyID)
	}
	var g model.BuyerGroup
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal buyer group")
	}
	return &g, nil
}

// ReplaceQueue publishes q if its generation is newer than the stored one.
func (s *SQLiteStore) ReplaceQueue(ctx context.Context, q *model.RankedQueue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace queue")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ranked_queues (workspace_id, id, generation, ordering_mode, eligible, snapshot_at, built_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (workspace_id) DO UPDATE SET
		   id = excluded.id, generation = excluded.generation, ordering_mode = excluded.ordering_mode,
		   eligible = excluded.eligible, snapshot_at = excluded.snapshot_at, built_at = excluded.built_at
		 WHERE ranked_queues.generation < excluded.generation`,
		q.WorkspaceID, q.ID, q.Generation, string(q.Mode), q.Eligible, q.SnapshotAt.UTC(), q.BuiltAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert queue header %s", q.WorkspaceID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrStaleGeneration, "workspace %s generation %d", q.WorkspaceID, q.Generation)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE workspace_id = ?`, q.WorkspaceID); err != nil {
		return eris.Wrapf(err, "sqlite: clear queue entries %s", q.WorkspaceID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO queue_entries (workspace_id, global_rank, entity_kind, entity_id, company_id, score) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare queue entry insert")
	}
	defer stmt.Close() //nolint:errcheck
	for _, e := range q.Entries {
		if _, err := stmt.ExecContext(ctx, q.WorkspaceID, e.GlobalRank, string(e.Kind), e.EntityID, e.CompanyID, e.Score); err != nil {
			return eris.Wrapf(err, "sqlite: insert queue entry %d", e.GlobalRank)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace queue")
}

// GetQueue returns the published queue page, or nil if none exists.
func (s *SQLiteStore) GetQueue(ctx context.Context, workspaceID string, offset, limit int) (*model.RankedQueue, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin get queue")
	}
	defer tx.Rollback() //nolint:errcheck

	q := model.RankedQueue{WorkspaceID: workspaceID, Entries: []model.RankedQueueEntry{}}
	var mode string
	err = tx.QueryRowContext(ctx,
		`SELECT id, generation, ordering_mode, eligible, snapshot_at, built_at FROM ranked_queues WHERE workspace_id = ?`,
		workspaceID,
	).Scan(&q.ID, &q.Generation, &mode, &q.Eligible, &q.SnapshotAt, &q.BuiltAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get queue header %s", workspaceID)
	}
	q.Mode = model.OrderingMode(mode)
	q.SnapshotAt = q.SnapshotAt.UTC()
	q.BuiltAt = q.BuiltAt.UTC()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT global_rank, entity_kind, entity_id, company_id, score FROM queue_entries
		 WHERE workspace_id = ? AND global_rank > ? ORDER BY global_rank LIMIT ?`,
		workspaceID, max(offset, 0), limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query queue entries %s", workspaceID)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.RankedQueueEntry
		var kind string
		if err := rows.Scan(&e.GlobalRank, &kind, &e.EntityID, &e.CompanyID, &e.Score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queue entry")
		}
		e.Kind = model.EntityKind(kind)
		q.Entries = append(q.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate queue entries")
	}
	return &q, nil
}

// RecordFailure upserts the company's ledger entry.
func (s *SQLiteStore) RecordFailure(ctx context.Context, e resilience.FailureEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_failures
		 (id, company_id, workspace_id, employees, flagged_large, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, retry_count = excluded.retry_count,
		   max_retries = excluded.max_retries, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		e.ID, e.CompanyID, e.WorkspaceID, e.Employees, e.FlaggedLarge, e.Error, e.ErrorType,
		e.RetryCount, e.MaxRetries, e.NextRetryAt.UTC(), e.CreatedAt.UTC(), e.LastFailedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record failure %s", e.CompanyID)
}

// ListFailures returns ledger entries, soonest retry first.
func (s *SQLiteStore) ListFailures(ctx context.Context, f resilience.FailureFilter) ([]resilience.FailureEntry, error) {
	query := `SELECT id, company_id, workspace_id, employees, flagged_large, error, error_type,
	                 retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM discovery_failures WHERE 1 = 1`
	var args []any
	if f.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, f.ErrorType)
	}
	if !f.DueBefore.IsZero() {
		query += ` AND next_retry_at <= ? AND retry_count < max_retries`
		args = append(args, f.DueBefore.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultFailureLimit
	}
	query += ` ORDER BY next_retry_at ASC, company_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close()

	var entries []resilience.FailureEntry
	for rows.Next() {
		var e resilience.FailureEntry
		var employees sql.NullInt64
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.WorkspaceID, &employees, &e.FlaggedLarge, &e.Error,
			&e.ErrorType, &e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		if employees.Valid {
			n := int(employees.Int64)
			e.Employees = &n
		}
		e.NextRetryAt = e.NextRetryAt.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		e.LastFailedAt = e.LastFailedAt.UTC()
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate failures")
}

// RemoveFailure deletes the company's ledger entry, if any.
func (s *SQLiteStore) RemoveFailure(ctx context.Context, companyID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM discovery_failures WHERE company_id = ?`, companyID)
	return eris.Wrapf(err, "sqlite: remove failure %s", companyID)
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
