package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-cli/internal/model"
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

func TestPostgresStore_ListStages(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"id", "name", "color", "default_probability", "position", "won"}).
		AddRow("lead", "Lead", "#94a3b8", 10, 0, false).
		AddRow("won", "Won", "#4ade80", 100, 1, true)
	mock.ExpectQuery(`SELECT id, name, color, default_probability, position, won FROM stages`).
		WillReturnRows(rows)

	stages, err := s.ListStages(context.Background())
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "lead", stages[0].ID)
	assert.True(t, stages[1].Won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertStages(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO stages .* ON CONFLICT`).
		WithArgs("lead", "Lead", "#94a3b8", 10, 0, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertStages(context.Background(), []model.Stage{
		{ID: "lead", Name: "Lead", Color: "#94a3b8", DefaultProbability: 10, Position: 0},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDeal_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM deals d JOIN stages s`).
		WithArgs("nonexistent-deal").
		WillReturnError(pgx.ErrNoRows)

	deal, err := s.GetDeal(context.Background(), "nonexistent-deal")
	require.NoError(t, err)
	assert.Nil(t, deal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDeal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO deals`).
		WithArgs(pgxmock.AnyArg(), "Acme Corp", "Jo Smith", "lead", 2500.0, 10,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO deal_activities`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "created", nil, "lead", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	deal, err := s.CreateDeal(context.Background(), model.Deal{
		Company:     "Acme Corp",
		ContactName: "Jo Smith",
		StageID:     "lead",
		Value:       2500,
		Probability: 10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, deal.ID)
	assert.False(t, deal.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDeal_Invalid(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.CreateDeal(context.Background(), model.Deal{StageID: "lead"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "company is required")
}

func TestPostgresStore_ListDeals_Filtered(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "company", "contact_name", "stage_id", "value", "probability",
		"expected_close_date", "created_at", "stage_changed_at", "updated_at",
		"name", "color",
	}).AddRow("d1", "Acme", "", "lead", 100.0, 10, nil, now, now, now, "Lead", "#94a3b8")

	mock.ExpectQuery(`FROM deals d JOIN stages s .* AND d.stage_id = \$1`).
		WithArgs("lead", 500).
		WillReturnRows(rows)

	deals, err := s.ListDeals(context.Background(), DealFilter{StageID: "lead"})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "d1", deals[0].ID)
	assert.Equal(t, "Lead", deals[0].StageName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDealStage(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	changedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT stage_id FROM deals WHERE id = \$1 FOR UPDATE`).
		WithArgs("d1").
		WillReturnRows(pgxmock.NewRows([]string{"stage_id"}).AddRow("lead"))
	mock.ExpectExec(`UPDATE deals`).
		WithArgs("proposal", changedAt, pgxmock.AnyArg(), "d1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO deal_activities`).
		WithArgs(pgxmock.AnyArg(), "d1", "stage_change", "lead", "proposal", changedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.UpdateDealStage(context.Background(), "d1", "proposal", changedAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDealStage_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT stage_id FROM deals WHERE id = \$1 FOR UPDATE`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.UpdateDealStage(context.Background(), "ghost", "proposal", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deal not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteDeal_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM deals WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteDeal(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deal not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActivities(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	from := "lead"
	to := "proposal"
	rows := pgxmock.NewRows([]string{"id", "deal_id", "kind", "from_stage_id", "to_stage_id", "created_at"}).
		AddRow("a1", "d1", "stage_change", &from, &to, now)
	mock.ExpectQuery(`FROM deal_activities WHERE deal_id = \$1`).
		WithArgs("d1", 50).
		WillReturnRows(rows)

	activities, err := s.ListActivities(context.Background(), "d1", 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, model.ActivityStageChange, activities[0].Kind)
	assert.Equal(t, "lead", activities[0].FromStageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
