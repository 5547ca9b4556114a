package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/store"
)

// memStore is an in-memory store.Store for router tests.
type memStore struct {
	stages     []model.Stage
	deals      map[string]*model.Deal
	activities map[string][]model.Activity
}

func newMemStore() *memStore {
	return &memStore{
		stages: []model.Stage{
			{ID: "lead", Name: "Lead", DefaultProbability: 10, Position: 0},
			{ID: "proposal", Name: "Proposal", DefaultProbability: 50, Position: 1},
		},
		deals:      make(map[string]*model.Deal),
		activities: make(map[string][]model.Activity),
	}
}

func (m *memStore) ListStages(ctx context.Context) ([]model.Stage, error) { return m.stages, nil }

func (m *memStore) UpsertStages(ctx context.Context, stages []model.Stage) error {
	m.stages = stages
	return nil
}

func (m *memStore) CreateDeal(ctx context.Context, deal model.Deal) (*model.Deal, error) {
	if deal.ID == "" {
		deal.ID = "gen-1"
	}
	if err := deal.Validate(); err != nil {
		return nil, err
	}
	m.deals[deal.ID] = &deal
	return &deal, nil
}

func (m *memStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	return m.deals[dealID], nil
}

func (m *memStore) ListDeals(ctx context.Context, filter store.DealFilter) ([]model.Deal, error) {
	var out []model.Deal
	for _, d := range m.deals {
		if filter.StageID != "" && d.StageID != filter.StageID {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (m *memStore) UpdateDeal(ctx context.Context, deal model.Deal) error {
	if _, ok := m.deals[deal.ID]; !ok {
		return eris.New("deal not found")
	}
	m.deals[deal.ID] = &deal
	return nil
}

func (m *memStore) UpdateDealStage(ctx context.Context, dealID, stageID string, changedAt time.Time) error {
	d, ok := m.deals[dealID]
	if !ok {
		return eris.New("deal not found")
	}
	d.StageID = stageID
	d.StageChangedAt = changedAt
	return nil
}

func (m *memStore) DeleteDeal(ctx context.Context, dealID string) error {
	if _, ok := m.deals[dealID]; !ok {
		return eris.New("deal not found")
	}
	delete(m.deals, dealID)
	return nil
}

func (m *memStore) ListActivities(ctx context.Context, dealID string, limit int) ([]model.Activity, error) {
	return m.activities[dealID], nil
}

func (m *memStore) Migrate(ctx context.Context) error { return nil }

func (m *memStore) Close() error { return nil }

var _ store.Store = (*memStore)(nil)

func TestRouter_Healthz(t *testing.T) {
	router := buildRouter(newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_ListStages(t *testing.T) {
	router := buildRouter(newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/api/stages", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var stages []model.Stage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stages))
	require.Len(t, stages, 2)
	assert.Equal(t, "lead", stages[0].ID)
}

func TestRouter_CreateAndGetDeal(t *testing.T) {
	router := buildRouter(newMemStore())

	payload, _ := json.Marshal(model.Deal{ID: "d1", Company: "Acme", StageID: "lead", Value: 100})
	req := httptest.NewRequest(http.MethodPost, "/api/deals", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/deals/d1", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var deal model.Deal
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &deal))
	assert.Equal(t, "Acme", deal.Company)
}

func TestRouter_CreateDeal_Invalid(t *testing.T) {
	router := buildRouter(newMemStore())

	// Missing company.
	payload, _ := json.Marshal(model.Deal{ID: "d1", StageID: "lead"})
	req := httptest.NewRequest(http.MethodPost, "/api/deals", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "company")
}

func TestRouter_GetDeal_NotFound(t *testing.T) {
	router := buildRouter(newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/api/deals/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_MoveDeal(t *testing.T) {
	ms := newMemStore()
	ms.deals["d1"] = &model.Deal{ID: "d1", Company: "Acme", StageID: "lead"}
	router := buildRouter(ms)

	payload := []byte(`{"stage_id":"proposal"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/deals/d1/stage", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "proposal", ms.deals["d1"].StageID)
}

func TestRouter_MoveDeal_MissingStage(t *testing.T) {
	ms := newMemStore()
	ms.deals["d1"] = &model.Deal{ID: "d1", Company: "Acme", StageID: "lead"}
	router := buildRouter(ms)

	req := httptest.NewRequest(http.MethodPatch, "/api/deals/d1/stage", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "stage_id is required")
}

func TestRouter_DeleteDeal(t *testing.T) {
	ms := newMemStore()
	ms.deals["d1"] = &model.Deal{ID: "d1", Company: "Acme", StageID: "lead"}
	router := buildRouter(ms)

	req := httptest.NewRequest(http.MethodDelete, "/api/deals/d1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, ms.deals)
}

func TestRouter_ListDeals_FilterByStage(t *testing.T) {
	ms := newMemStore()
	ms.deals["d1"] = &model.Deal{ID: "d1", Company: "Acme", StageID: "lead"}
	ms.deals["d2"] = &model.Deal{ID: "d2", Company: "Globex", StageID: "proposal"}
	router := buildRouter(ms)

	req := httptest.NewRequest(http.MethodGet, "/api/deals?stage_id=proposal", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var deals []model.Deal
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &deals))
	require.Len(t, deals, 1)
	assert.Equal(t, "d2", deals[0].ID)
}
