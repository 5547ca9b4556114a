package store

import (
	"context"
	"time"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// DealFilter specifies criteria for listing deals.
type DealFilter struct {
	StageID string `json:"stage_id,omitempty"`
	Company string `json:"company,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the pipeline board.
type Store interface {
	// Stages
	ListStages(ctx context.Context) ([]model.Stage, error)
	UpsertStages(ctx context.Context, stages []model.Stage) error

	// Deals
	CreateDeal(ctx context.Context, deal model.Deal) (*model.Deal, error)
	GetDeal(ctx context.Context, dealID string) (*model.Deal, error)
	ListDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error)
	UpdateDeal(ctx context.Context, deal model.Deal) error
	UpdateDealStage(ctx context.Context, dealID, stageID string, changedAt time.Time) error
	DeleteDeal(ctx context.Context, dealID string) error

	// Activities
	ListActivities(ctx context.Context, dealID string, limit int) ([]model.Activity, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
