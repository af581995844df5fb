package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/speedrun-cli/internal/db"
	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// snapshotTx is the isolation used for every multi-statement read so a
// rebuild never sees a half-applied write.
var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id               TEXT PRIMARY KEY,
	workspace_id     TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	domain           TEXT NOT NULL DEFAULT '',
	employee_count   INTEGER,
	flagged_large    BOOLEAN NOT NULL DEFAULT false,
	revenue          DOUBLE PRECISION,
	stage            TEXT NOT NULL DEFAULT '',
	deal_value       DOUBLE PRECISION,
	status           TEXT NOT NULL DEFAULT '',
	last_action_type TEXT,
	last_action_at   TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ
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
	last_action_at   TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS buyer_groups (
	company_id   TEXT PRIMARY KEY,
	id           TEXT NOT NULL,
	workspace_id TEXT NOT NULL DEFAULT '',
	data         JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ranked_queues (
	workspace_id  TEXT PRIMARY KEY,
	id            TEXT NOT NULL,
	generation    BIGINT NOT NULL,
	ordering_mode TEXT NOT NULL,
	eligible      INTEGER NOT NULL,
	snapshot_at   TIMESTAMPTZ NOT NULL,
	built_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_entries (
	workspace_id TEXT NOT NULL,
	global_rank  INTEGER NOT NULL,
	entity_kind  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	company_id   TEXT NOT NULL DEFAULT '',
	score        DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (workspace_id, global_rank)
);

CREATE TABLE IF NOT EXISTS discovery_failures (
	id             TEXT PRIMARY KEY,
	company_id     TEXT NOT NULL UNIQUE,
	workspace_id   TEXT NOT NULL DEFAULT '',
	employees      INTEGER,
	flagged_large  BOOLEAN NOT NULL DEFAULT false,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_workspace ON companies(workspace_id);
CREATE INDEX IF NOT EXISTS idx_people_workspace ON people(workspace_id);
CREATE INDEX IF NOT EXISTS idx_people_company ON people(company_id);
CREATE INDEX IF NOT EXISTS idx_discovery_failures_next ON discovery_failures(next_retry_at);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const companyColumns = `id, workspace_id, name, domain, employee_count, flagged_large, revenue, stage,
	deal_value, status, last_action_type, last_action_at, created_at, updated_at`

const personColumns = `id, workspace_id, company_id, external_id, full_name, title, email, phone,
	status, last_action_type, last_action_at, created_at`

// LoadSnapshot reads every company, person and buyer group of a workspace
// in one repeatable-read transaction.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, workspaceID string) (*model.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, snapshotTx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin snapshot")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	snap := &model.Snapshot{
		WorkspaceID: workspaceID,
		TakenAt:     time.Now().UTC(),
		BuyerGroups: make(map[string]*model.BuyerGroup),
	}

	rows, err := tx.Query(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE workspace_id = $1 ORDER BY id`, workspaceID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query companies")
	}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		snap.Companies = append(snap.Companies, *c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate companies")
	}

	rows, err = tx.Query(ctx,
		`SELECT `+personColumns+` FROM people WHERE workspace_id = $1 ORDER BY id`, workspaceID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query people")
	}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan person")
		}
		snap.People = append(snap.People, *p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate people")
	}

	rows, err = tx.Query(ctx,
		`SELECT bg.data FROM buyer_groups bg JOIN companies c ON c.id = bg.company_id WHERE c.workspace_id = $1`,
		workspaceID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query buyer groups")
	}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan buyer group")
		}
		var g model.BuyerGroup
		if err := json.Unmarshal(data, &g); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: unmarshal buyer group")
		}
		snap.BuyerGroups[g.CompanyID] = &g
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate buyer groups")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit snapshot")
	}
	return snap, nil
}

func scanCompany(row pgx.Row) (*model.Company, error) {
	var c model.Company
	var actionType *string
	var actionAt *time.Time
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Domain, &c.EmployeeCount, &c.FlaggedLarge,
		&c.Revenue, &c.Stage, &c.DealValue, &c.Status, &actionType, &actionAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.LastAction = actionFrom(actionType, actionAt)
	return &c, nil
}

func scanPerson(row pgx.Row) (*model.Person, error) {
	var p model.Person
	var actionType *string
	var actionAt *time.Time
	if err := row.Scan(&p.ID, &p.WorkspaceID, &p.CompanyID, &p.ExternalID, &p.FullName, &p.Title,
		&p.Email, &p.Phone, &p.Status, &actionType, &actionAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.LastAction = actionFrom(actionType, actionAt)
	return &p, nil
}

// GetCompany returns a company by ID, or nil if it does not exist.
func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, companyID)
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %s", companyID)
	}
	return c, nil
}

// UpsertCompany inserts or replaces a company.
func (s *PostgresStore) UpsertCompany(ctx context.Context, c model.Company) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	actionType, actionAt := actionArgs(c.LastAction)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (`+companyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		 ON CONFLICT (id) DO UPDATE SET
		   workspace_id = $2, name = $3, domain = $4, employee_count = $5, flagged_large = $6,
		   revenue = $7, stage = $8, deal_value = $9, status = $10,
		   last_action_type = $11, last_action_at = $12, updated_at = now()`,
		c.ID, c.WorkspaceID, c.Name, c.Domain, c.EmployeeCount, c.FlaggedLarge,
		c.Revenue, c.Stage, c.DealValue, c.Status, actionType, actionAt, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert company %s", c.ID)
}

// UpsertPerson inserts or replaces a person.
func (s *PostgresStore) UpsertPerson(ctx context.Context, p model.Person) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	actionType, actionAt := actionArgs(p.LastAction)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO people (`+personColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   workspace_id = $2, company_id = $3, external_id = $4, full_name = $5, title = $6,
		   email = $7, phone = $8, status = $9, last_action_type = $10, last_action_at = $11`,
		p.ID, p.WorkspaceID, p.CompanyID, p.ExternalID, p.FullName, p.Title,
		p.Email, p.Phone, p.Status, actionType, actionAt, p.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert person %s", p.ID)
}

// ReplaceBuyerGroup swaps the company's buyer group in a single statement.
func (s *PostgresStore) ReplaceBuyerGroup(ctx context.Context, g *model.BuyerGroup) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	data, err := json.Marshal(g)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal buyer group")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO buyer_groups (company_id, id, workspace_id, data, generated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (company_id) DO UPDATE SET
		   id = $2, workspace_id = $3, data = $4, generated_at = $5`,
		g.CompanyID, g.ID, g.WorkspaceID, data, g.GeneratedAt,
	)
	return eris.Wrapf(err, "postgres: replace buyer group %s", g.CompanyID)
}

// GetBuyerGroup returns the current buyer group, or nil if none exists.
func (s *PostgresStore) GetBuyerGroup(ctx context.Context, companyID string) (*model.BuyerGroup, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM buyer_groups WHERE company_id = $1`, companyID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get buyer group %s", companyID)
	}
	var g model.BuyerGroup
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal buyer group")
	}
	return &g, nil
}

// ReplaceQueue publishes q as the workspace's queue in one transaction.
// The header upsert only applies when q.Generation is newer than the
// stored one; otherwise nothing changes and ErrStaleGeneration is
// returned.
func (s *PostgresStore) ReplaceQueue(ctx context.Context, q *model.RankedQueue) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace queue")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO ranked_queues (workspace_id, id, generation, ordering_mode, eligible, snapshot_at, built_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (workspace_id) DO UPDATE SET
		   id = EXCLUDED.id, generation = EXCLUDED.generation, ordering_mode = EXCLUDED.ordering_mode,
		   eligible = EXCLUDED.eligible, snapshot_at = EXCLUDED.snapshot_at, built_at = EXCLUDED.built_at
		 WHERE ranked_queues.generation < EXCLUDED.generation`,
		q.WorkspaceID, q.ID, q.Generation, string(q.Mode), q.Eligible, q.SnapshotAt, q.BuiltAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert queue header %s", q.WorkspaceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStaleGeneration, "workspace %s generation %d", q.WorkspaceID, q.Generation)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM queue_entries WHERE workspace_id = $1`, q.WorkspaceID); err != nil {
		return eris.Wrapf(err, "postgres: clear queue entries %s", q.WorkspaceID)
	}

	rows := make([][]any, len(q.Entries))
	for i, e := range q.Entries {
		rows[i] = []any{q.WorkspaceID, e.GlobalRank, string(e.Kind), e.EntityID, e.CompanyID, e.Score}
	}
	if _, err := db.CopyFrom(ctx, tx, "queue_entries", queueEntryColumns, rows); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace queue")
}

// GetQueue returns the published queue header with entries ranked after
// offset, at most limit of them (all when limit <= 0). It returns nil if
// the workspace has no published queue.
func (s *PostgresStore) GetQueue(ctx context.Context, workspaceID string, offset, limit int) (*model.RankedQueue, error) {
	tx, err := s.pool.BeginTx(ctx, snapshotTx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin get queue")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	q := model.RankedQueue{WorkspaceID: workspaceID, Entries: []model.RankedQueueEntry{}}
	var mode string
	err = tx.QueryRow(ctx,
		`SELECT id, generation, ordering_mode, eligible, snapshot_at, built_at FROM ranked_queues WHERE workspace_id = $1`,
		workspaceID,
	).Scan(&q.ID, &q.Generation, &mode, &q.Eligible, &q.SnapshotAt, &q.BuiltAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get queue header %s", workspaceID)
	}
	q.Mode = model.OrderingMode(mode)

	query := `SELECT global_rank, entity_kind, entity_id, company_id, score FROM queue_entries
	          WHERE workspace_id = $1 AND global_rank > $2 ORDER BY global_rank`
	args := []any{workspaceID, max(offset, 0)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query queue entries %s", workspaceID)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.RankedQueueEntry
		var kind string
		if err := rows.Scan(&e.GlobalRank, &kind, &e.EntityID, &e.CompanyID, &e.Score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue entry")
		}
		e.Kind = model.EntityKind(kind)
		q.Entries = append(q.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate queue entries")
	}
	return &q, nil
}

// RecordFailure upserts the company's ledger entry.
func (s *PostgresStore) RecordFailure(ctx context.Context, e resilience.FailureEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO discovery_failures
		 (id, company_id, workspace_id, employees, flagged_large, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (company_id) DO UPDATE SET
		   error = $6, error_type = $7, retry_count = $8, max_retries = $9,
		   next_retry_at = $10, last_failed_at = $12`,
		e.ID, e.CompanyID, e.WorkspaceID, e.Employees, e.FlaggedLarge, e.Error, e.ErrorType,
		e.RetryCount, e.MaxRetries, e.NextRetryAt, e.CreatedAt, e.LastFailedAt,
	)
	return eris.Wrapf(err, "postgres: record failure %s", e.CompanyID)
}

// ListFailures returns ledger entries, soonest retry first.
func (s *PostgresStore) ListFailures(ctx context.Context, f resilience.FailureFilter) ([]resilience.FailureEntry, error) {
	query := `SELECT id, company_id, workspace_id, employees, flagged_large, error, error_type,
	                 retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM discovery_failures WHERE true`
	var args []any
	if f.ErrorType != "" {
		args = append(args, f.ErrorType)
		query += fmt.Sprintf(` AND error_type = $%d`, len(args))
	}
	if !f.DueBefore.IsZero() {
		args = append(args, f.DueBefore)
		query += fmt.Sprintf(` AND next_retry_at <= $%d AND retry_count < max_retries`, len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultFailureLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY next_retry_at ASC, company_id ASC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var entries []resilience.FailureEntry
	for rows.Next() {
		var e resilience.FailureEntry
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.WorkspaceID, &e.Employees, &e.FlaggedLarge, &e.Error,
			&e.ErrorType, &e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate failures")
}

// RemoveFailure deletes the company's ledger entry, if any.
func (s *PostgresStore) RemoveFailure(ctx context.Context, companyID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM discovery_failures WHERE company_id = $1`, companyID)
	return eris.Wrapf(err, "postgres: remove failure %s", companyID)
}
