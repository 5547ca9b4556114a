package model

import "time"

// ActivityKind distinguishes entries in the deal activity log.
type ActivityKind string

const (
	ActivityStageChange ActivityKind = "stage_change"
	ActivityCreated     ActivityKind = "created"
)

// Activity is one audit entry for a deal. Stage transitions record both
// sides of the move so the history is readable without joining stages.
type Activity struct {
	ID          string       `json:"id"`
	DealID      string       `json:"deal_id"`
	Kind        ActivityKind `json:"kind"`
	FromStageID string       `json:"from_stage_id,omitempty"`
	ToStageID   string       `json:"to_stage_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
