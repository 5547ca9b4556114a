package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedTestStages(t *testing.T, st *SQLiteStore) {
	t.Helper()
	require.NoError(t, st.UpsertStages(context.Background(), model.DefaultStages))
}

// --- Stages ---

func TestSQLite_Stages_SeedAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)

	stages, err := st.ListStages(context.Background())
	require.NoError(t, err)
	require.Len(t, stages, len(model.DefaultStages))
	assert.Equal(t, "lead", stages[0].ID)
	assert.Equal(t, "won", stages[len(stages)-1].ID)
	assert.True(t, stages[len(stages)-1].Won)
}

func TestSQLite_Stages_UpsertOverwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)
	ctx := context.Background()

	err := st.UpsertStages(ctx, []model.Stage{
		{ID: "lead", Name: "Inbound", Color: "#000000", DefaultProbability: 5, Position: 0},
	})
	require.NoError(t, err)

	stages, err := st.ListStages(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Inbound", stages[0].Name)
	assert.Equal(t, 5, stages[0].DefaultProbability)
	// other stages untouched
	assert.Len(t, stages, len(model.DefaultStages))
}

// --- Deals ---

func TestSQLite_Deal_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)
	ctx := context.Background()

	created, err := st.CreateDeal(ctx, model.Deal{
		Company:     "Acme Corp",
		ContactName: "Jo Smith",
		StageID:     "lead",
		Value:       2500,
		Probability: 10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := st.GetDeal(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Acme Corp", got.Company)
	assert.Equal(t, "lead", got.StageID)
	assert.Equal(t, "Lead", got.StageName)
	assert.InDelta(t, 2500, got.Value, 0.001)
}

func TestSQLite_Deal_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)

	got, err := st.GetDeal(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_Deal_CreateRecordsActivity(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)
	ctx := context.Background()

	created, err := st.CreateDeal(ctx, model.Deal{Company: "Acme", StageID: "lead"})
	require.NoError(t, err)

	activities, err := st.ListActivities(ctx, created.ID, 10)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, model.ActivityCreated, activities[0].Kind)
	assert.Equal(t, "lead", activities[0].ToStageID)
}

func TestSQLite_Deal_ListByStage(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)
	ctx := context.Background()

	_, err := st.CreateDeal(ctx, model.Deal{Company: "Acme", StageID: "lead"})
	require.NoError(t, err)
	_, err = st.CreateDeal(ctx, model.Deal{Company: "Globex", StageID: "proposal"})
	require.NoError(t, err)

	deals, err := st.ListDeals(ctx, DealFilter{StageID: "proposal"})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "Globex", deals[0].Company)
}

func TestSQLite_Deal_ListByCompany(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)
	ctx := context.Background()

	_, err := st.CreateDeal(ctx, model.Deal{Company: "Acme Corp", StageID: "lead"})
	require.NoError(t, err)
	_, err = st.CreateDeal(ctx, model.Deal{Company: "Globex", StageID: "lead"})
	require.NoError(t, err)

	deals, err := st.ListDeals(ctx, DealFilter{Company: "acme"})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "Acme Corp", deals[0].Company)
}

func TestSQLite_Deal_Update(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)
	ctx := context.Background()

	created, err := st.CreateDeal(ctx, model.Deal{Company: "Acme", StageID: "lead", Value: 100})
	require.NoError(t, err)

	created.Value = 9000
	created.ContactName = "Sam Lee"
	require.NoError(t, st.UpdateDeal(ctx, *created))

	got, err := st.GetDeal(ctx, created.ID)
	require.NoError(t, err)
	assert.InDelta(t, 9000, got.Value, 0.001)
	assert.Equal(t, "Sam Lee", got.ContactName)
}

func TestSQLite_Deal_UpdateMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)

	err := st.UpdateDeal(context.Background(), model.Deal{ID: "ghost", Company: "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deal not found")
}

func TestSQLite_Deal_Delete(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)
	ctx := context.Background()

	created, err := st.CreateDeal(ctx, model.Deal{Company: "Acme", StageID: "lead"})
	require.NoError(t, err)

	require.NoError(t, st.DeleteDeal(ctx, created.ID))

	got, err := st.GetDeal(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	err = st.DeleteDeal(ctx, created.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deal not found")
}

// --- Stage transitions ---

func TestSQLite_UpdateDealStage(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)
	ctx := context.Background()

	created, err := st.CreateDeal(ctx, model.Deal{Company: "Acme", StageID: "lead", Probability: 10})
	require.NoError(t, err)

	changedAt := time.Now().UTC().Add(time.Second)
	require.NoError(t, st.UpdateDealStage(ctx, created.ID, "proposal", changedAt))

	got, err := st.GetDeal(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "proposal", got.StageID)
	// probability follows the stage default
	assert.Equal(t, 50, got.Probability)

	activities, err := st.ListActivities(ctx, created.ID, 10)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, model.ActivityStageChange, activities[0].Kind)
	assert.Equal(t, "lead", activities[0].FromStageID)
	assert.Equal(t, "proposal", activities[0].ToStageID)
}

func TestSQLite_UpdateDealStage_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedTestStages(t, st)

	err := st.UpdateDealStage(context.Background(), "ghost", "proposal", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deal not found")
}
