package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

var companyCols = []string{"id", "workspace_id", "name", "domain", "employee_count", "flagged_large", "revenue",
	"stage", "deal_value", "status", "last_action_type", "last_action_at", "created_at", "updated_at"}

var personCols = []string{"id", "workspace_id", "company_id", "external_id", "full_name", "title", "email",
	"phone", "status", "last_action_type", "last_action_at", "created_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS companies`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCompany_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, workspace_id, name, .* FROM companies WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetCompany(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCompany_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM companies WHERE id = \$1`).
		WithArgs("c1").
		WillReturnError(errors.New("connection refused"))

	_, err := s.GetCompany(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get company c1")
}

func TestPostgresStore_LoadSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	employees := 80
	actionType := "email_sent"

	group, err := json.Marshal(model.BuyerGroup{ID: "bg1", CompanyID: "c1", GeneratedAt: now})
	require.NoError(t, err)

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`FROM companies WHERE workspace_id = \$1 ORDER BY id`).
		WithArgs("ws1").
		WillReturnRows(pgxmock.NewRows(companyCols).
			AddRow("c1", "ws1", "Acme", "acme.com", &employees, false, nil, "lead", nil, "", nil, nil, now, nil))
	mock.ExpectQuery(`FROM people WHERE workspace_id = \$1 ORDER BY id`).
		WithArgs("ws1").
		WillReturnRows(pgxmock.NewRows(personCols).
			AddRow("p1", "ws1", "c1", "ext-1", "Ada", "CTO", "ada@acme.com", "", "", &actionType, &now, now))
	mock.ExpectQuery(`SELECT bg.data FROM buyer_groups bg JOIN companies c`).
		WithArgs("ws1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(group))
	mock.ExpectCommit()

	snap, err := s.LoadSnapshot(context.Background(), "ws1")
	require.NoError(t, err)

	require.Len(t, snap.Companies, 1)
	require.NotNil(t, snap.Companies[0].EmployeeCount)
	assert.Equal(t, 80, *snap.Companies[0].EmployeeCount)
	assert.Nil(t, snap.Companies[0].LastAction)
	require.Len(t, snap.People, 1)
	require.NotNil(t, snap.People[0].LastAction)
	assert.Equal(t, "email_sent", snap.People[0].LastAction.Type)
	assert.Equal(t, "bg1", snap.BuyerGroups["c1"].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadSnapshot_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`FROM companies WHERE workspace_id`).
		WithArgs("ws1").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := s.LoadSnapshot(context.Background(), "ws1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query companies")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceBuyerGroup(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO buyer_groups .* ON CONFLICT \(company_id\) DO UPDATE`).
		WithArgs("c1", pgxmock.AnyArg(), "ws1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	g := &model.BuyerGroup{CompanyID: "c1", WorkspaceID: "ws1"}
	require.NoError(t, s.ReplaceBuyerGroup(context.Background(), g))
	assert.NotEmpty(t, g.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBuyerGroup(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	data, err := json.Marshal(model.BuyerGroup{
		ID:        "bg1",
		CompanyID: "c1",
		Members: map[model.Role][]model.Member{
			model.RoleChampion: {{CandidateID: "x", Confidence: 0.7}},
		},
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data FROM buyer_groups WHERE company_id = \$1`).
		WithArgs("c1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))
	mock.ExpectQuery(`SELECT data FROM buyer_groups WHERE company_id = \$1`).
		WithArgs("c2").
		WillReturnError(pgx.ErrNoRows)

	g, err := s.GetBuyerGroup(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "x", g.Members[model.RoleChampion][0].CandidateID)

	g, err = s.GetBuyerGroup(context.Background(), "c2")
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func queueFixture(gen int64) *model.RankedQueue {
	return &model.RankedQueue{
		ID:          "q1",
		WorkspaceID: "ws1",
		Generation:  gen,
		Mode:        model.OrderMerged,
		Eligible:    2,
		Entries: []model.RankedQueueEntry{
			{GlobalRank: 1, Kind: model.KindPerson, EntityID: "p1", CompanyID: "c1", Score: 90},
			{GlobalRank: 2, Kind: model.KindCompany, EntityID: "c2", CompanyID: "c2", Score: 60},
		},
	}
}

func TestPostgresStore_ReplaceQueue(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ranked_queues .* WHERE ranked_queues.generation < EXCLUDED.generation`).
		WithArgs("ws1", "q1", int64(7), "merged", 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM queue_entries WHERE workspace_id = \$1`).
		WithArgs("ws1").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"queue_entries"}, queueEntryColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.ReplaceQueue(context.Background(), queueFixture(7)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceQueue_Stale(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ranked_queues`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	err := s.ReplaceQueue(context.Background(), queueFixture(3))
	assert.ErrorIs(t, err, ErrStaleGeneration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceQueue_CopyFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ranked_queues`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM queue_entries`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"queue_entries"}, queueEntryColumns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.ReplaceQueue(context.Background(), queueFixture(4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO queue_entries")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetQueue(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`SELECT id, generation, ordering_mode, eligible, snapshot_at, built_at FROM ranked_queues`).
		WithArgs("ws1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "generation", "ordering_mode", "eligible", "snapshot_at", "built_at"}).
			AddRow("q1", int64(9), "people_first", 30, now, now))
	mock.ExpectQuery(`FROM queue_entries\s+WHERE workspace_id = \$1 AND global_rank > \$2 ORDER BY global_rank LIMIT \$3`).
		WithArgs("ws1", 10, 2).
		WillReturnRows(pgxmock.NewRows([]string{"global_rank", "entity_kind", "entity_id", "company_id", "score"}).
			AddRow(11, "person", "p11", "c1", 41.5).
			AddRow(12, "company", "c7", "c7", 40.0))

	q, err := s.GetQueue(context.Background(), "ws1", 10, 2)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, int64(9), q.Generation)
	assert.Equal(t, model.OrderPeopleFirst, q.Mode)
	require.Len(t, q.Entries, 2)
	assert.Equal(t, 11, q.Entries[0].GlobalRank)
	assert.Equal(t, model.KindCompany, q.Entries[1].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetQueue_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`FROM ranked_queues`).WithArgs("ws1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	q, err := s.GetQueue(context.Background(), "ws1", 0, 50)
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO discovery_failures .* ON CONFLICT \(company_id\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "c1", "ws1", pgxmock.AnyArg(), false, "503", "transient", 1, 3,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordFailure(context.Background(), resilience.FailureEntry{
		CompanyID: "c1", WorkspaceID: "ws1", Error: "503", ErrorType: "transient", RetryCount: 1, MaxRetries: 3,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFailures_DueFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM discovery_failures WHERE true AND error_type = \$1 AND next_retry_at <= \$2 AND retry_count < max_retries ORDER BY next_retry_at ASC, company_id ASC LIMIT \$3`).
		WithArgs("transient", now, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_id", "workspace_id", "employees", "flagged_large", "error",
			"error_type", "retry_count", "max_retries", "next_retry_at", "created_at", "last_failed_at"}).
			AddRow("f1", "c1", "ws1", nil, true, "503", "transient", 1, 3, now, now, now))

	entries, err := s.ListFailures(context.Background(), resilience.FailureFilter{ErrorType: "transient", DueBefore: now})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c1", entries[0].CompanyID)
	assert.Nil(t, entries[0].Employees)
	assert.True(t, entries[0].FlaggedLarge)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RemoveFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM discovery_failures WHERE company_id = \$1`).
		WithArgs("c1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.RemoveFailure(context.Background(), "c1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
